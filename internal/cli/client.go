package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// FlowResponse — flow из API.
type FlowResponse struct {
	Code     string            `json:"code"`
	Labels   map[string]string `json:"labels,omitempty"`
	Steps    []string          `json:"steps"`
	CronJobs int               `json:"cron_jobs"`
	Source   string            `json:"source,omitempty"`
}

// CaseResponse — case из API.
type CaseResponse struct {
	ID         string          `json:"id"`
	CaseType   string          `json:"case_type"`
	ExternalID string          `json:"external_id,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Created    string          `json:"created"`
	Finished   string          `json:"finished,omitempty"`
	State      string          `json:"state"`
	Response   json.RawMessage `json:"response,omitempty"`
	Tasks      []TaskResponse  `json:"tasks,omitempty"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID           string          `json:"id"`
	Step         string          `json:"step"`
	Worker       string          `json:"worker"`
	StepIndex    int             `json:"step_index"`
	Created      string          `json:"created,omitempty"`
	Finished     string          `json:"finished,omitempty"`
	ResponseCode int             `json:"response_code,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// CronJobResponse — cron job из API.
type CronJobResponse struct {
	CaseType   string          `json:"case_type"`
	Expression string          `json:"expression"`
	Params     json.RawMessage `json:"params,omitempty"`
	Next       string          `json:"next"`
	Prev       string          `json:"prev,omitempty"`
}

// QueueStat — состояние группы воркеров.
type QueueStat struct {
	Prefix      string   `json:"prefix"`
	Delivered   int64    `json:"delivered"`
	QueueSize   int      `json:"queue_size"`
	OldestEvent string   `json:"oldest_event,omitempty"`
	LastWorker  string   `json:"last_worker"`
	Workers     int      `json:"workers"`
	WorkerIDs   []string `json:"worker_ids"`
}

// AssetResponse — загруженный asset.
type AssetResponse struct {
	ID          string `json:"id"`
	CaseType    string `json:"case_type"`
	ExtName     string `json:"ext_name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// --- Request types ---

// CreateCaseRequest — создание case.
type CreateCaseRequest struct {
	CaseType   string          `json:"caseType"`
	ExternalID string          `json:"externalId,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Assets     []string        `json:"assets,omitempty"`
}

// ReprocessRequest — фильтр tasks, которые выполняются заново.
type ReprocessRequest struct {
	Steps         []string `json:"steps,omitempty"`
	Workers       []string `json:"workers,omitempty"`
	Tasks         []string `json:"tasks,omitempty"`
	ResponseCodes []string `json:"responseCodes,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type idResponse struct {
	ID string `json:"id"`
}

// --- Client ---

// Client — HTTP-клиент для flowcase API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает загруженные flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// GetFlow возвращает нормализованное определение flow.
func (c *Client) GetFlow(code string) (json.RawMessage, error) {
	var flow json.RawMessage
	err := c.get("/api/v1/flows/"+url.PathEscape(code), &flow)
	return flow, err
}

// ListCronJobs возвращает cron jobs.
func (c *Client) ListCronJobs() ([]CronJobResponse, error) {
	var jobs []CronJobResponse
	err := c.list("/api/v1/cron", nil, &jobs)
	return jobs, err
}

// --- Cases ---

// CreateCase создаёт case и возвращает его id.
func (c *Client) CreateCase(req CreateCaseRequest) (string, error) {
	var id idResponse
	err := c.post("/api/v1/cases", req, &id)
	return id.ID, err
}

// GetCase возвращает case. wait > 0 ждёт завершения case.
func (c *Client) GetCase(id string, wait time.Duration, full bool) (*CaseResponse, error) {
	params := url.Values{}
	if wait > 0 {
		params.Set("wait", strconv.Itoa(int(wait/time.Second)))
	}
	if full {
		params.Set("full", "true")
	}
	path := "/api/v1/cases/" + url.PathEscape(id)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var cs CaseResponse
	err := c.get(path, &cs)
	return &cs, err
}

// ListTasks возвращает tasks незавершённого case.
func (c *Client) ListTasks(caseID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/cases/"+url.PathEscape(caseID)+"/tasks", nil, &tasks)
	return tasks, err
}

// ReprocessCase создаёт новый case из завершённого и возвращает его id.
func (c *Client) ReprocessCase(id string, req ReprocessRequest) (string, error) {
	var newID idResponse
	err := c.post("/api/v1/cases/"+url.PathEscape(id)+"/reprocess", req, &newID)
	return newID.ID, err
}

// --- Assets ---

// UploadAsset загружает файл для case type.
func (c *Client) UploadAsset(caseType, ext, contentType string, data []byte) (*AssetResponse, error) {
	path := "/api/v1/assets/" + url.PathEscape(caseType) + "?ext=" + url.QueryEscape(ext)
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var asset AssetResponse
	if err := c.decodeData(resp, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// --- Queue ---

// QueueStats возвращает состояние групп воркеров.
func (c *Client) QueueStats() ([]QueueStat, error) {
	var stats []QueueStat
	err := c.list("/api/v1/queue/stats", nil, &stats)
	return stats, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeData(resp, result)
}

func (c *Client) decodeData(resp *http.Response, result any) error {
	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
