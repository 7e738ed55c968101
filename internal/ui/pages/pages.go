// Пакет pages — HTML-страницы add-in. Разметка описана в pages.templ,
// pages_templ.go генерируется командой templ generate.
package pages

//go:generate templ generate

// IndexData — данные страницы выбора метода подписи.
// Все идентификаторы выводятся без изменений и уходят в /Home/Sign
// скрытыми полями формы.
type IndexData struct {
	HostURL    string
	ListItemID string
	ListID     string
	Source     string
	ListURLDir string
	ItemURL    string
	// Methods — методы подписи для выбора
	Methods []string
}

// hiddenField — скрытое поле формы /Home/Sign.
type hiddenField struct {
	name  string
	value string
}

func (d IndexData) hiddenFields() []hiddenField {
	return []hiddenField{
		{"SPHostURL", d.HostURL},
		{"SPListItemId", d.ListItemID},
		{"SPListId", d.ListID},
		{"SPSource", d.Source},
		{"SPListURLDir", d.ListURLDir},
		{"SPItemUrl", d.ItemURL},
	}
}
