package signicat

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/signing-module/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(endpoint, "shared", "secret", "", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	return c
}

func sampleCreateRequest() *model.CreateRequestRequest {
	callback := "https://sign.example.com/Home/Return?rid=${requestId}&SPListId=L1"
	return &model.CreateRequestRequest{
		Service:  "shared",
		Password: "secret",
		Requests: []model.Request{{
			Profile:  "slim",
			Language: "en",
			Documents: []model.ProvidedDocument{{
				ExternalReference: "7",
				ID:                "doc_1",
				MimeType:          "application/pdf",
				Description:       "Contract.pdf",
				Data:              []byte("%PDF-1.4 test"),
				SignTextEntry:     "I agree",
			}},
			Tasks: []model.Task{{
				ID:             "task_1",
				OnTaskComplete: callback,
				OnTaskCancel:   callback,
				OnTaskPostpone: callback,
				DocumentActions: []model.DocumentAction{{
					Type: model.DocumentActionSign, DocumentRef: "doc_1", SendResultToArchive: true,
				}},
				Signatures:     []model.Signature{{Methods: []string{"pkisignature"}}},
				Authentication: model.Authentication{Artifact: true},
			}},
		}},
	}
}

const createResponseXML = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns2="https://id.signicat.com/definitions/wsdl/Document-v3">
  <soap:Body>
    <ns2:createrequestresponse>
      <requestid>270420121uc2hpkwb6cj0kbsm3p6kc6jsoq4b11e3zu1pgg3yecr5sa2ei</requestid>
      <artifact>ART-123</artifact>
    </ns2:createrequestresponse>
  </soap:Body>
</soap:Envelope>`

// TestCreateRequest проверяет сериализацию createRequest и разбор ответа.
func TestCreateRequest(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("метод = %s, ожидался POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
			t.Errorf("Content-Type = %q, ожидался text/xml", ct)
		}
		if sa := r.Header.Get("SOAPAction"); sa != `""` {
			t.Errorf("SOAPAction = %q, ожидался пустой", sa)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, createResponseXML)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.CreateRequest(context.Background(), sampleCreateRequest())
	if err != nil {
		t.Fatalf("CreateRequest() вернул ошибку: %v", err)
	}

	if len(resp.RequestIDs) != 1 || resp.RequestIDs[0] != "270420121uc2hpkwb6cj0kbsm3p6kc6jsoq4b11e3zu1pgg3yecr5sa2ei" {
		t.Errorf("RequestIDs = %v", resp.RequestIDs)
	}
	if resp.Artifact != "ART-123" {
		t.Errorf("Artifact = %q, ожидался ART-123", resp.Artifact)
	}

	// Проверяем содержимое исходящего конверта
	for _, want := range []string{
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">`,
		`<doc:createrequestrequest xmlns:doc="https://id.signicat.com/definitions/wsdl/Document-v3">`,
		"<service>shared</service>",
		"<password>secret</password>",
		`id="task_1"`,
		`bundle="false"`,
		`type="sign"`,
		`documentref="doc_1"`,
		`sendresulttoarchive="true"`,
		`artifact="true"`,
		"<method>pkisignature</method>",
		`externalreference="7"`,
		`mimetype="application/pdf"`,
		"<data>" + base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test")) + "</data>",
		"rid=${requestId}&amp;SPListId=L1",
	} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("тело запроса не содержит %q:\n%s", want, gotBody)
		}
	}

	// Конверт должен быть корректным XML
	var check struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal([]byte(gotBody), &check); err != nil {
		t.Errorf("исходящий конверт не разбирается как XML: %v", err)
	}
}

// TestCreateRequest_Fault проверяет преобразование SOAP Fault в FaultError.
func TestCreateRequest_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Client</faultcode>
      <faultstring>Invalid password for service shared</faultstring>
      <detail><code>AUTH</code></detail>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CreateRequest(context.Background(), sampleCreateRequest())

	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("ошибка = %v, ожидался *FaultError", err)
	}
	if fault.Code != "soap:Client" {
		t.Errorf("Code = %q, ожидался soap:Client", fault.Code)
	}
	if fault.Message != "Invalid password for service shared" {
		t.Errorf("Message = %q", fault.Message)
	}
	if !strings.Contains(fault.Detail, "AUTH") {
		t.Errorf("Detail = %q, ожидалось содержание AUTH", fault.Detail)
	}
}

// TestGetStatus_FaultWithOK проверяет SOAP Fault, отданный со статусом 200.
func TestGetStatus_FaultWithOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">
  <soap:Body>
    <soap:Fault>
      <faultcode>soap:Server</faultcode>
      <faultstring>Unknown request id</faultstring>
      <detail><requestid>rid-1</requestid></detail>
    </soap:Fault>
  </soap:Body>
</soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetStatus(context.Background(), &model.GetStatusRequest{
		Service: "shared", Password: "secret", RequestIDs: []string{"rid-1"},
	})

	var fault *FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("ошибка = %v, ожидался *FaultError", err)
	}
	if fault.Code != "soap:Server" || fault.Message != "Unknown request id" {
		t.Errorf("fault = %+v", fault)
	}
	if !strings.Contains(fault.Detail, "rid-1") {
		t.Errorf("Detail = %q, ожидалось содержание rid-1", fault.Detail)
	}
}

// TestCreateRequest_HTTPError проверяет ответ без SOAP-конверта.
func TestCreateRequest_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.CreateRequest(context.Background(), sampleCreateRequest())
	if err == nil {
		t.Fatal("CreateRequest() не вернул ошибку при HTTP 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("ошибка %q не содержит статус 502", err.Error())
	}
}

// TestCreateRequest_NoRequestID проверяет пустой ответ createRequest.
func TestCreateRequest_NoRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`+
			`<createrequestresponse><artifact>x</artifact></createrequestresponse></soap:Body></soap:Envelope>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.CreateRequest(context.Background(), sampleCreateRequest()); err == nil {
		t.Error("CreateRequest() без requestid не вернул ошибку")
	}
}

// TestGetStatus проверяет разбор getStatus с результатом и без.
func TestGetStatus(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantDocs   int
		wantResult string
	}{
		{
			name: "подписано",
			response: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<ns2:getstatusresponse xmlns:ns2="https://id.signicat.com/definitions/wsdl/Document-v3">
  <taskstatusinfo>
    <taskid>task_1</taskid>
    <taskstatus>completed</taskstatus>
    <documentstatus id="doc_1" status="signed">
      <originaluri>https://preprod.signicat.com/doc/sds/orig</originaluri>
      <resulturi>https://preprod.signicat.com/doc/sds/result</resulturi>
    </documentstatus>
  </taskstatusinfo>
</ns2:getstatusresponse></soap:Body></soap:Envelope>`,
			wantDocs:   1,
			wantResult: "https://preprod.signicat.com/doc/sds/result",
		},
		{
			name: "отменено",
			response: `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>
<getstatusresponse><taskstatusinfo><taskid>task_1</taskid><taskstatus>rejected</taskstatus></taskstatusinfo></getstatusresponse>
</soap:Body></soap:Envelope>`,
			wantDocs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			statuses, err := c.GetStatus(context.Background(), &model.GetStatusRequest{
				Service: "shared", Password: "secret", RequestIDs: []string{"rid-1"},
			})
			if err != nil {
				t.Fatalf("GetStatus() вернул ошибку: %v", err)
			}
			if !strings.Contains(gotBody, "<doc:getstatusrequest") || !strings.Contains(gotBody, "<requestid>rid-1</requestid>") {
				t.Errorf("тело запроса не содержит requestid: %s", gotBody)
			}
			if len(statuses) != 1 {
				t.Fatalf("len(statuses) = %d, ожидался 1", len(statuses))
			}
			if statuses[0].TaskID != "task_1" {
				t.Errorf("TaskID = %q, ожидался task_1", statuses[0].TaskID)
			}
			if len(statuses[0].DocumentStatuses) != tt.wantDocs {
				t.Fatalf("len(DocumentStatuses) = %d, ожидалось %d", len(statuses[0].DocumentStatuses), tt.wantDocs)
			}
			if tt.wantDocs > 0 && statuses[0].DocumentStatuses[0].ResultURI != tt.wantResult {
				t.Errorf("ResultURI = %q, ожидался %q", statuses[0].DocumentStatuses[0].ResultURI, tt.wantResult)
			}
		})
	}
}

// TestDownloadResult проверяет Basic-авторизацию и Content-Type результата.
func TestDownloadResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shared" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/x-ltv-sdo+xml")
		_, _ = io.WriteString(w, "<sdo/>")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	artifact, err := c.DownloadResult(context.Background(), srv.URL+"/doc/sds/result")
	if err != nil {
		t.Fatalf("DownloadResult() вернул ошибку: %v", err)
	}
	if string(artifact.Data) != "<sdo/>" {
		t.Errorf("Data = %q", artifact.Data)
	}
	if artifact.ContentType != "application/x-ltv-sdo+xml" {
		t.Errorf("ContentType = %q", artifact.ContentType)
	}
}

// TestDownloadResult_Error проверяет ошибку при не-200 ответе.
func TestDownloadResult_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.DownloadResult(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("DownloadResult() не вернул ошибку при HTTP 404")
	}
}
