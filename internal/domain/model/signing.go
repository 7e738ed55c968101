// Пакет model — доменные модели Signing Module.
// Структуры запросов Document Service повторяют объектную модель провайдера
// (createrequest/getstatus); SOAP-представление живёт в пакете signicat.
package model

import "time"

// SigningContext — контекст SharePoint, полученный из query-параметров и cookie.
// Живёт в пределах одного HTTP-запроса.
type SigningContext struct {
	// HostURL — URL сайта SharePoint (SPHostURL)
	HostURL string
	// ListID — GUID списка (SPListId)
	ListID string
	// ListItemID — идентификатор элемента списка (SPListItemId)
	ListItemID string
	// Source — URL возврата пользователя (SPSource)
	Source string
	// ListURLDir — server-relative путь папки списка (SPListURLDir)
	ListURLDir string
	// ItemURL — URL элемента (SPItemUrl), только для отображения
	ItemURL string
	// AppToken — одноразовый context token SharePoint add-in
	AppToken string
}

// ProvidedDocument — документ, передаваемый провайдеру подписи как оригинал.
// Создаётся один раз на попытку подписи и дальше не изменяется.
type ProvidedDocument struct {
	// ExternalReference — идентификатор элемента списка SharePoint
	ExternalReference string
	// ID — внутренний идентификатор документа в запросе ("doc_1")
	ID string
	// MimeType — всегда "application/pdf"
	MimeType string
	// Description — отображаемое имя документа
	Description string
	// Data — содержимое файла
	Data []byte
	// SignTextEntry — текст согласия подписанта
	SignTextEntry string
}

// DocumentActionType — тип действия над документом в задаче.
type DocumentActionType string

// DocumentActionSign — подписать документ.
const DocumentActionSign DocumentActionType = "sign"

// DocumentAction — действие над документом внутри задачи.
type DocumentAction struct {
	Type                DocumentActionType
	DocumentRef         string
	SendResultToArchive bool
}

// Signature — допустимые методы подписи для задачи.
type Signature struct {
	Methods []string
}

// Authentication — режим аутентификации в hosted signing UI.
type Authentication struct {
	// Artifact — выдавать artifact token для продолжения сессии
	Artifact bool
}

// Task — задача подписи. Три callback URL указывают на один endpoint.
type Task struct {
	ID              string
	Bundle          bool
	OnTaskComplete  string
	OnTaskCancel    string
	OnTaskPostpone  string
	DocumentActions []DocumentAction
	Signatures      []Signature
	Authentication  Authentication
}

// Request — заказ подписи: документы и задачи.
type Request struct {
	Profile   string
	Language  string
	Documents []ProvidedDocument
	Tasks     []Task
}

// CreateRequestRequest — вызов createRequest (учётные данные + заказы).
type CreateRequestRequest struct {
	Service  string
	Password string
	Requests []Request
}

// CreateRequestResponse — ответ createRequest.
type CreateRequestResponse struct {
	// RequestIDs — идентификаторы созданных заказов (используется первый)
	RequestIDs []string
	// Artifact — токен для hosted signing UI
	Artifact string
}

// GetStatusRequest — вызов getStatus.
type GetStatusRequest struct {
	Service    string
	Password   string
	RequestIDs []string
}

// DocumentStatus — статус одного документа в задаче.
type DocumentStatus struct {
	ID            string
	Status        string
	OriginalURI   string
	ResultURI     string
	DocumentRef   string
	ResultMessage string
}

// TaskStatus — статус задачи; без resulturi подписанного результата нет.
type TaskStatus struct {
	TaskID           string
	Status           string
	DocumentStatuses []DocumentStatus
}

// SignedArtifact — подписанный результат (SDO или PDF), скачанный у провайдера.
type SignedArtifact struct {
	Data        []byte
	ContentType string
}

// SessionStatus — состояние signing-сессии.
type SessionStatus string

// Состояния signing-сессии.
const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
)

// SigningSession — серверная запись, связывающая request id провайдера
// с контекстом SharePoint, из которого начата подпись.
type SigningSession struct {
	// RequestID — идентификатор заказа у провайдера (ключ корреляции)
	RequestID string
	// TaskID — идентификатор задачи в заказе
	TaskID string
	// HostURL — сайт SharePoint
	HostURL string
	// ListID — GUID списка
	ListID string
	// ListItemID — элемент списка с оригиналом
	ListItemID string
	// DocumentName — отображаемое имя документа
	DocumentName string
	// Source — URL возврата
	Source string
	// ListURLDir — папка для загрузки результата
	ListURLDir string
	// Method — выбранный метод подписи
	Method string
	// Status — pending или completed
	Status SessionStatus
	// ResultFileName — имя загруженного файла (для completed)
	ResultFileName *string
	// CreatedAt — время создания
	CreatedAt time.Time
	// ExpiresAt — время истечения; после него callback отклоняется
	ExpiresAt time.Time
	// FinishedAt — время загрузки результата
	FinishedAt *time.Time
}

// Finished сообщает, что результат уже загружен и повторная загрузка не нужна.
// Отмена или отложенная задача сессию не завершают: пользователь может
// вернуться к заказу, и следующий callback снова запросит статус.
func (s *SigningSession) Finished() bool {
	return s.Status == SessionCompleted
}

// Expired сообщает, истекла ли сессия на момент now.
func (s *SigningSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
