package signicat

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/hooklift/gowsdl/soap"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
)

// documentNS — пространство имён Document Service v3. Конверт SOAP 1.1
// формирует soap.Client, корневой элемент запроса объявляет префикс doc сам.
const documentNS = "https://id.signicat.com/definitions/wsdl/Document-v3"

// FaultError — SOAP Fault, возвращённый Document Service.
type FaultError struct {
	Code    string
	Message string
	Detail  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("SOAP fault %s: %s", e.Code, e.Message)
}

// faultDetail — содержимое <detail> SOAP Fault.
// HasData = false: текстом ошибки остаётся faultstring.
type faultDetail struct {
	Inner string `xml:",innerxml"`
}

func (d *faultDetail) ErrorString() string { return strings.TrimSpace(d.Inner) }

func (d *faultDetail) HasData() bool { return false }

// newFaultError переводит *soap.SOAPFault в *FaultError.
func newFaultError(f *soap.SOAPFault) *FaultError {
	fe := &FaultError{
		Code:    strings.TrimSpace(f.Code),
		Message: strings.TrimSpace(f.String),
	}
	if d, ok := f.Detail.(*faultDetail); ok && d != nil {
		fe.Detail = d.ErrorString()
	}
	return fe
}

// faultFromBody извлекает SOAP Fault из тела HTTP-ответа с ошибкой:
// SOAP 1.1 отдаёт Fault со статусом 500, и soap.Client возвращает его
// как *soap.HTTPError без разбора конверта.
func faultFromBody(body []byte) (*FaultError, bool) {
	env := soap.SOAPEnvelopeResponse{
		Body: soap.SOAPBodyResponse{
			Content: &struct{}{},
			Fault:   &soap.SOAPFault{Detail: &faultDetail{}},
		},
	}
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, false
	}
	var fault *soap.SOAPFault
	if !errors.As(env.Body.ErrorFromFault(), &fault) {
		return nil, false
	}
	return newFaultError(fault), true
}

// --- createRequest ---

type wireCreateRequestRequest struct {
	XMLName  xml.Name      `xml:"doc:createrequestrequest"`
	DocNS    string        `xml:"xmlns:doc,attr"`
	Service  string        `xml:"service"`
	Password string        `xml:"password"`
	Requests []wireRequest `xml:"request"`
}

type wireRequest struct {
	Profile   string         `xml:"profile,omitempty"`
	Language  string         `xml:"language,omitempty"`
	Documents []wireDocument `xml:"document"`
	Tasks     []wireTask     `xml:"task"`
}

type wireDocument struct {
	ID                string `xml:"id,attr"`
	ExternalReference string `xml:"externalreference,attr,omitempty"`
	MimeType          string `xml:"mimetype,attr"`
	Description       string `xml:"description,attr"`
	SignTextEntry     string `xml:"signtextentry,omitempty"`
	// Data — содержимое документа в base64 (xs:base64Binary)
	Data string `xml:"data"`
}

type wireTask struct {
	ID              string               `xml:"id,attr"`
	Bundle          *bool                `xml:"bundle,attr"`
	OnTaskComplete  string               `xml:"ontaskcomplete,omitempty"`
	OnTaskCancel    string               `xml:"ontaskcancel,omitempty"`
	OnTaskPostpone  string               `xml:"ontaskpostpone,omitempty"`
	DocumentActions []wireDocumentAction `xml:"documentaction"`
	Signatures      []wireSignature      `xml:"signature"`
	Authentication  *wireAuthentication  `xml:"authentication,omitempty"`
}

type wireDocumentAction struct {
	Type                string `xml:"type,attr"`
	DocumentRef         string `xml:"documentref,attr"`
	SendResultToArchive *bool  `xml:"sendresulttoarchive,attr"`
}

type wireSignature struct {
	Methods []string `xml:"method"`
}

type wireAuthentication struct {
	Artifact *bool `xml:"artifact,attr"`
}

type wireCreateRequestResponse struct {
	XMLName    xml.Name `xml:"createrequestresponse"`
	RequestIDs []string `xml:"requestid"`
	Artifact   string   `xml:"artifact"`
}

// --- getStatus ---

type wireGetStatusRequest struct {
	XMLName    xml.Name `xml:"doc:getstatusrequest"`
	DocNS      string   `xml:"xmlns:doc,attr"`
	Service    string   `xml:"service"`
	Password   string   `xml:"password"`
	RequestIDs []string `xml:"requestid"`
}

type wireGetStatusResponse struct {
	XMLName xml.Name         `xml:"getstatusresponse"`
	Tasks   []wireTaskStatus `xml:"taskstatusinfo"`
}

type wireTaskStatus struct {
	TaskID    string               `xml:"taskid"`
	Status    string               `xml:"taskstatus"`
	Documents []wireDocumentStatus `xml:"documentstatus"`
}

type wireDocumentStatus struct {
	ID            string `xml:"id,attr"`
	Status        string `xml:"status,attr"`
	OriginalURI   string `xml:"originaluri"`
	ResultURI     string `xml:"resulturi"`
	DocumentRef   string `xml:"documentref"`
	ResultMessage string `xml:"resultmessage"`
}

// --- Преобразование доменная модель ⇄ wire ---

func toWireCreateRequest(req *model.CreateRequestRequest) *wireCreateRequestRequest {
	w := &wireCreateRequestRequest{
		DocNS:    documentNS,
		Service:  req.Service,
		Password: req.Password,
	}
	for _, r := range req.Requests {
		wr := wireRequest{Profile: r.Profile, Language: r.Language}
		for _, d := range r.Documents {
			wr.Documents = append(wr.Documents, wireDocument{
				ID:                d.ID,
				ExternalReference: d.ExternalReference,
				MimeType:          d.MimeType,
				Description:       d.Description,
				SignTextEntry:     d.SignTextEntry,
				Data:              base64.StdEncoding.EncodeToString(d.Data),
			})
		}
		for _, task := range r.Tasks {
			wt := wireTask{
				ID:             task.ID,
				Bundle:         boolPtr(task.Bundle),
				OnTaskComplete: task.OnTaskComplete,
				OnTaskCancel:   task.OnTaskCancel,
				OnTaskPostpone: task.OnTaskPostpone,
				Authentication: &wireAuthentication{Artifact: boolPtr(task.Authentication.Artifact)},
			}
			for _, a := range task.DocumentActions {
				wt.DocumentActions = append(wt.DocumentActions, wireDocumentAction{
					Type:                string(a.Type),
					DocumentRef:         a.DocumentRef,
					SendResultToArchive: boolPtr(a.SendResultToArchive),
				})
			}
			for _, s := range task.Signatures {
				wt.Signatures = append(wt.Signatures, wireSignature{Methods: s.Methods})
			}
			wr.Tasks = append(wr.Tasks, wt)
		}
		w.Requests = append(w.Requests, wr)
	}
	return w
}

func fromWireTaskStatuses(tasks []wireTaskStatus) []model.TaskStatus {
	result := make([]model.TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		ts := model.TaskStatus{TaskID: t.TaskID, Status: t.Status}
		for _, d := range t.Documents {
			ts.DocumentStatuses = append(ts.DocumentStatuses, model.DocumentStatus{
				ID:            d.ID,
				Status:        d.Status,
				OriginalURI:   d.OriginalURI,
				ResultURI:     d.ResultURI,
				DocumentRef:   d.DocumentRef,
				ResultMessage: d.ResultMessage,
			})
		}
		result = append(result, ts)
	}
	return result
}

func boolPtr(b bool) *bool {
	return &b
}
