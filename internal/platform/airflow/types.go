package airflow

import "time"

// Wire types for the Airflow 2 stable REST API. Only the fields the client
// reads are declared.

type importError struct {
	ID         int       `json:"import_error_id"`
	Filename   string    `json:"filename"`
	StackTrace string    `json:"stack_trace"`
	Timestamp  time.Time `json:"timestamp"`
}

type importErrorList struct {
	ImportErrors []importError `json:"import_errors"`
	TotalEntries int           `json:"total_entries"`
}

type dagDetail struct {
	DAGID          string     `json:"dag_id"`
	IsPaused       bool       `json:"is_paused"`
	LastParsedTime *time.Time `json:"last_parsed_time"`
	HasImportError bool       `json:"has_import_errors"`
	Fileloc        string     `json:"fileloc"`
}

type dagWarning struct {
	DAGID       string    `json:"dag_id"`
	WarningType string    `json:"warning_type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type dagWarningList struct {
	DAGWarnings []dagWarning `json:"dag_warnings"`
}

type dagRunRequest struct {
	DAGRunID string         `json:"dag_run_id"`
	Conf     map[string]any `json:"conf"`
	Note     string         `json:"note,omitempty"`
}

type dagRun struct {
	DAGRunID string `json:"dag_run_id"`
	State    string `json:"state"`
}

type dagRunStateUpdate struct {
	State string `json:"state"`
}

type dagPauseUpdate struct {
	IsPaused bool `json:"is_paused"`
}

type taskInstance struct {
	TaskID    string `json:"task_id"`
	State     string `json:"state"`
	TryNumber int    `json:"try_number"`
	Operator  string `json:"operator"`
}

type taskInstanceList struct {
	TaskInstances []taskInstance `json:"task_instances"`
}

type componentHealth struct {
	Status string `json:"status"`
}

type healthInfo struct {
	Metadatabase componentHealth `json:"metadatabase"`
	Scheduler    componentHealth `json:"scheduler"`
}
