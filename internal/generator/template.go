package generator

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

const dagTemplate = `# Generated by dagpilot for {{ .DAG.ID }} (attempt {{ .Attempt }}).
{{- range .Diagnostics }}
# fix {{ .Stage }} {{ .Severity }}{{ if .TaskID }} in {{ .TaskID }}{{ end }}: {{ firstLine .Message }}
{{- end }}
from datetime import datetime

from airflow import DAG
from airflow.operators.bash import BashOperator
from airflow.operators.empty import EmptyOperator

with DAG(
    dag_id={{ py .DAG.ID }},
{{- if .DAG.Description }}
    description={{ py .DAG.Description }},
{{- end }}
    schedule={{ if .DAG.Schedule }}{{ py .DAG.Schedule }}{{ else }}None{{ end }},
    start_date=datetime({{ .DAG.StartDate.Year }}, {{ printf "%d" .DAG.StartDate.Month }}, {{ .DAG.StartDate.Day }}),
    catchup={{ pybool .DAG.Catchup }},
    tags=[{{ range $i, $t := .DAG.Tags }}{{ if $i }}, {{ end }}{{ py $t }}{{ end }}],
) as dag:
{{- if not .DAG.Tasks }}
    noop = EmptyOperator(task_id="noop")
{{- end }}
{{- range .DAG.Tasks }}
    {{ ident .ID }} = BashOperator(
        task_id={{ py .ID }},
        bash_command={{ py .BashCommand }},
        retries={{ .Retries }},
    )
{{- end }}
{{- range $t := .DAG.Tasks }}
{{- range .Upstream }}
    {{ ident . }} >> {{ ident $t.ID }}
{{- end }}
{{- end }}
`

// Template renders the DAG file deterministically from the DAG config.
// Feedback diagnostics are rendered as a comment header so that each
// attempt's content, and therefore its artifact, is distinct.
type Template struct {
	tmpl *template.Template
}

// NewTemplate parses the built-in DAG template.
func NewTemplate() *Template {
	funcs := template.FuncMap{
		"py":        pyString,
		"pybool":    pyBool,
		"ident":     pyIdent,
		"firstLine": firstLine,
	}
	return &Template{tmpl: template.Must(template.New("dag").Funcs(funcs).Parse(dagTemplate))}
}

// Generate renders the request.
func (t *Template) Generate(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.DAG.Validate(); err != nil {
		return nil, generationError("generator.template", err)
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, req); err != nil {
		return nil, generationError("generator.template", fmt.Errorf("render: %w", err))
	}
	return buf.Bytes(), nil
}

// pyString quotes s as a Python string literal. Go's escapes are a subset
// of Python's for double-quoted strings.
func pyString(s string) string {
	return strconv.Quote(s)
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// pyIdent maps a task id onto a Python variable name.
func pyIdent(id string) string {
	return "t_" + nonIdent.ReplaceAllString(id, "_")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

var _ Generator = (*Template)(nil)
