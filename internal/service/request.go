// request.go — построение заказа подписи и URL, через которые проходит
// пользователь: callback на /Home/Return и hosted signing page провайдера.
// Все функции чистые: без сети и без состояния.
package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
)

// Фиксированные идентификаторы единственного документа и задачи в заказе.
const (
	DocumentID = "doc_1"
	TaskID     = "task_1"
)

// DocumentMimeType — MIME-тип оригинала. Провайдеру всегда передаётся PDF.
const DocumentMimeType = "application/pdf"

// RequestIDPlaceholder — подстановка, которую провайдер заменяет в callback URL
// на request id заказа.
const RequestIDPlaceholder = "${requestId}"

// ReturnPath — путь completion endpoint.
const ReturnPath = "/Home/Return"

// SignedSuffix — суффикс имени подписанного файла.
const SignedSuffix = " - SIGNED"

// sdoContentTypePrefix — Content-Type LTV SDO (XML-контейнер подписи).
const sdoContentTypePrefix = "application/x-ltv-sdo"

// signingPageURLTemplate — hosted signing page: окружение и продукт.
const signingPageURLTemplate = "https://%s.signicat.com/std/docaction/%s"

// RequestOptions — параметры заказа, не зависящие от документа.
type RequestOptions struct {
	Service  string
	Password string
	Profile  string
	Language string
}

// CallbackParams — параметры маршрутизации, возвращающиеся в callback URL.
type CallbackParams struct {
	ListID       string
	DocumentName string
	Source       string
	ListURLDir   string
}

// BuildProvidedDocument создаёт документ для заказа из файла элемента списка.
// externalreference — идентификатор элемента, MIME-тип всегда application/pdf.
func BuildProvidedDocument(itemID, name string, data []byte, signText string) model.ProvidedDocument {
	return model.ProvidedDocument{
		ExternalReference: itemID,
		ID:                DocumentID,
		MimeType:          DocumentMimeType,
		Description:       name,
		Data:              data,
		SignTextEntry:     signText,
	}
}

// CallbackURL строит URL возврата от провайдера.
// baseURL — внешний адрес модуля (схема и хост), значения параметров экранируются,
// плейсхолдер request id остаётся как есть.
func CallbackURL(baseURL string, p CallbackParams) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(baseURL, "/"))
	b.WriteString(ReturnPath)
	b.WriteString("?rid=")
	b.WriteString(RequestIDPlaceholder)
	b.WriteString("&SPListId=")
	b.WriteString(url.QueryEscape(p.ListID))
	b.WriteString("&documentName=")
	b.WriteString(url.QueryEscape(p.DocumentName))
	b.WriteString("&SPSource=")
	b.WriteString(url.QueryEscape(p.Source))
	b.WriteString("&SPListURLDir=")
	b.WriteString(url.QueryEscape(p.ListURLDir))
	return b.String()
}

// BuildSignatureRequest строит заказ из одного документа и одной задачи:
// одно действие sign, один метод подписи, artifact-аутентификация
// и три одинаковых callback URL (complete, cancel, postpone).
func BuildSignatureRequest(opts RequestOptions, doc model.ProvidedDocument, method, callbackURL string) *model.CreateRequestRequest {
	task := model.Task{
		ID:             TaskID,
		Bundle:         false,
		OnTaskComplete: callbackURL,
		OnTaskCancel:   callbackURL,
		OnTaskPostpone: callbackURL,
		DocumentActions: []model.DocumentAction{{
			Type:                model.DocumentActionSign,
			DocumentRef:         doc.ID,
			SendResultToArchive: true,
		}},
		Signatures:     []model.Signature{{Methods: []string{method}}},
		Authentication: model.Authentication{Artifact: true},
	}

	return &model.CreateRequestRequest{
		Service:  opts.Service,
		Password: opts.Password,
		Requests: []model.Request{{
			Profile:   opts.Profile,
			Language:  opts.Language,
			Documents: []model.ProvidedDocument{doc},
			Tasks:     []model.Task{task},
		}},
	}
}

// SigningURL строит адрес hosted signing page.
func SigningURL(environment, product, requestID, taskID, artifact string) string {
	q := url.Values{}
	q.Set("request_id", requestID)
	q.Set("task_id", taskID)
	q.Set("artifact", artifact)
	return fmt.Sprintf(signingPageURLTemplate, environment, product) + "?" +
		encodeOrdered(q, "request_id", "task_id", "artifact")
}

// FileExtensionForContentType определяет расширение результата по Content-Type:
// LTV SDO сохраняется как .xml, всё остальное как .pdf.
// Провайдер не сообщает формат результата явно.
func FileExtensionForContentType(contentType string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), sdoContentTypePrefix) {
		return ".xml"
	}
	return ".pdf"
}

// SignedFileName возвращает имя подписанного файла: "<имя> - SIGNED<расширение>".
func SignedFileName(documentName, contentType string) string {
	return documentName + SignedSuffix + FileExtensionForContentType(contentType)
}

// encodeOrdered кодирует параметры в заданном порядке
// (url.Values.Encode сортирует ключи по алфавиту).
func encodeOrdered(q url.Values, keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(q.Get(k)))
	}
	return strings.Join(parts, "&")
}
