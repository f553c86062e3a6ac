package model

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// Režimy snímání obrázků.
const (
	CaptureInterval = "interval"
	CaptureTrigger  = "trigger"
)

// Stavy procesu snímání.
const (
	ProcessStopped = "stopped"
	ProcessRunning = "running"
	ProcessError   = "error"
)

// Výsledky posledního uploadu.
const (
	UploadNotAttempted = "not_attempted"
	UploadSuccess      = "success"
	UploadFailed       = "failed"
)

// DefaultCyclicInterval je perioda snímání v sekundách, pokud není zadaná.
const DefaultCyclicInterval = 30

// ImageProcess popisuje naplánované snímání obrázku z OPC-UA zařízení.
type ImageProcess struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DeviceID    int64  `json:"device_id"`
	DeviceName  string `json:"device_name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`

	ObjectID    string         `json:"object_id"`
	MethodID    string         `json:"method_id"`
	MethodArgs  map[string]any `json:"method_args"`
	CheckNodeID string         `json:"check_node_id"`
	ImageNodeID string         `json:"image_node_id"`
	AckNodeID   string         `json:"ack_node_id"`

	CaptureMode    string `json:"capture_mode"`
	EnableCyclic   bool   `json:"enable_cyclic"`
	CyclicInterval int    `json:"cyclic_interval"`

	EnableUpload        bool              `json:"enable_upload"`
	UploadURL           string            `json:"upload_url"`
	UploadHeaders       map[string]string `json:"upload_headers"`
	TimestampHeaderName string            `json:"timestamp_header_name"`

	Status             string     `json:"status"`
	LastExecution      *time.Time `json:"last_execution"`
	LastImage          string     `json:"last_image"`
	LastUploadStatus   string     `json:"last_upload_status"`
	LastUploadError    string     `json:"last_upload_error"`
	UploadSuccessCount int64      `json:"upload_success_count"`
	UploadFailureCount int64      `json:"upload_failure_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// UnmarshalJSON přijímá upload_headers i jako pole {name, value}.
func (p *ImageProcess) UnmarshalJSON(b []byte) error {
	type plain ImageProcess
	aux := struct {
		*plain
		UploadHeaders json.RawMessage `json:"upload_headers"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.UploadHeaders) == 0 || string(aux.UploadHeaders) == "null" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(aux.UploadHeaders, &m); err == nil {
		p.UploadHeaders = m
		return nil
	}
	var list []Header
	if err := json.Unmarshal(aux.UploadHeaders, &list); err != nil {
		return invalidf("upload_headers musí být objekt nebo seznam hlaviček")
	}
	p.UploadHeaders = make(map[string]string, len(list))
	for _, h := range list {
		if h.Name != "" {
			p.UploadHeaders[h.Name] = h.Value
		}
	}
	return nil
}

// Normalize doplní výchozí hodnoty a sjednotí capture_mode s enable_cyclic.
func (p *ImageProcess) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	switch p.CaptureMode {
	case CaptureInterval:
		p.EnableCyclic = true
	case CaptureTrigger:
		p.EnableCyclic = false
	case "":
		if p.EnableCyclic {
			p.CaptureMode = CaptureInterval
		} else {
			p.CaptureMode = CaptureTrigger
		}
	}
	if p.CyclicInterval < 1 {
		p.CyclicInterval = DefaultCyclicInterval
	}
	if p.Status == "" {
		p.Status = ProcessStopped
	}
	if p.LastUploadStatus == "" {
		p.LastUploadStatus = UploadNotAttempted
	}
	if p.MethodArgs == nil {
		p.MethodArgs = map[string]any{}
	}
	if p.UploadHeaders == nil {
		p.UploadHeaders = map[string]string{}
	}
}

// Validate kontroluje povinná pole procesu. Volá se po Normalize.
func (p *ImageProcess) Validate() error {
	if p.Name == "" {
		return invalidf("chybí název procesu")
	}
	if p.DeviceID == 0 {
		return invalidf("chybí device_id")
	}
	if p.CaptureMode != CaptureInterval && p.CaptureMode != CaptureTrigger {
		return invalidf("neznámý capture_mode %q", p.CaptureMode)
	}
	if strings.TrimSpace(p.ImageNodeID) == "" {
		return invalidf("chybí image_node_id")
	}
	if p.MethodID != "" && p.ObjectID == "" {
		return invalidf("method_id vyžaduje object_id")
	}
	if p.EnableUpload {
		u, err := url.Parse(p.UploadURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalidf("upload_url %q není http(s) adresa", p.UploadURL)
		}
	}
	return nil
}

// Interval vrací periodu snímání.
func (p ImageProcess) Interval() time.Duration {
	if p.CyclicInterval < 1 {
		return DefaultCyclicInterval * time.Second
	}
	return time.Duration(p.CyclicInterval) * time.Second
}

// Execution je výsledek jednoho snímání.
type Execution struct {
	At           time.Time `json:"at"`
	ImageID      int64     `json:"image_id"`
	ObjectKey    string    `json:"object_key"`
	UploadStatus string    `json:"upload_status"`
	UploadError  string    `json:"upload_error,omitempty"`
}
