// inspect.go — проверка, что файл из SharePoint является корректным PDF,
// до отправки провайдеру подписи.
package service

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// DocumentInspector проверяет содержимое документа перед подписью.
type DocumentInspector interface {
	// Inspect возвращает количество страниц или ошибку, если документ не читается.
	Inspect(data []byte) (int, error)
}

// PDFInspector — DocumentInspector на pdfcpu.
type PDFInspector struct {
	conf *pdfmodel.Configuration
}

// NewPDFInspector создаёт инспектор PDF в relaxed-режиме валидации
// (реальные документы часто слегка нарушают спецификацию PDF).
func NewPDFInspector() *PDFInspector {
	// Конфигурация pdfcpu не читается с диска
	api.DisableConfigDir()

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return &PDFInspector{conf: conf}
}

// Inspect разбирает PDF и возвращает количество страниц.
func (p *PDFInspector) Inspect(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("пустой документ")
	}
	pages, err := api.PageCount(bytes.NewReader(data), p.conf)
	if err != nil {
		return 0, fmt.Errorf("разбор PDF: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("PDF не содержит страниц")
	}
	return pages, nil
}
