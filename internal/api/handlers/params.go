// params.go — параметры query string endpoints add-in и их привязка
// через oapi-codegen runtime (form style, explode).
package handlers

import (
	"fmt"
	"net/url"

	"github.com/oapi-codegen/runtime"
)

// ContextParams — контекст SharePoint, который SharePoint передаёт
// в URL страницы add-in.
type ContextParams struct {
	SPHostURL    *string
	SPListItemId *string //nolint:revive // имя параметра SharePoint
	SPListId     *string //nolint:revive // имя параметра SharePoint
	SPSource     *string
	SPListURLDir *string
	SPItemUrl    *string //nolint:revive // имя параметра SharePoint
}

// SignParams — параметры GET /Home/Sign.
type SignParams struct {
	ContextParams
	Method *string
}

// ReturnParams — параметры callback GET /Home/Return.
type ReturnParams struct {
	Rid          *string
	SPListId     *string //nolint:revive // имя параметра SharePoint
	DocumentName *string
	SPSource     *string
	SPListURLDir *string
}

// queryParam — привязка одного необязательного параметра.
type queryParam struct {
	name string
	dest **string
}

func bindQuery(query url.Values, params ...queryParam) error {
	for _, p := range params {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dest); err != nil {
			return fmt.Errorf("некорректный параметр %s: %w", p.name, err)
		}
	}
	return nil
}

// BindContextParams разбирает контекст SharePoint из query string.
func BindContextParams(query url.Values) (ContextParams, error) {
	var p ContextParams
	err := bindQuery(query,
		queryParam{"SPHostURL", &p.SPHostURL},
		queryParam{"SPListItemId", &p.SPListItemId},
		queryParam{"SPListId", &p.SPListId},
		queryParam{"SPSource", &p.SPSource},
		queryParam{"SPListURLDir", &p.SPListURLDir},
		queryParam{"SPItemUrl", &p.SPItemUrl},
	)
	return p, err
}

// BindSignParams разбирает параметры /Home/Sign.
func BindSignParams(query url.Values) (SignParams, error) {
	ctxParams, err := BindContextParams(query)
	if err != nil {
		return SignParams{}, err
	}
	p := SignParams{ContextParams: ctxParams}
	if err := bindQuery(query, queryParam{"Method", &p.Method}); err != nil {
		return SignParams{}, err
	}
	return p, nil
}

// BindReturnParams разбирает параметры callback /Home/Return.
func BindReturnParams(query url.Values) (ReturnParams, error) {
	var p ReturnParams
	err := bindQuery(query,
		queryParam{"rid", &p.Rid},
		queryParam{"SPListId", &p.SPListId},
		queryParam{"documentName", &p.DocumentName},
		queryParam{"SPSource", &p.SPSource},
		queryParam{"SPListURLDir", &p.SPListURLDir},
	)
	return p, err
}

// str разыменовывает необязательный параметр.
func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
