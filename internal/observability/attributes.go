// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrFrom   = "from"
	attrTo     = "to"
	attrStage  = "stage"
	attrCause  = "cause"
	attrKind   = "kind"
	attrResult = "result"
	attrOp     = "op"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, path)
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func attributeStatus(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func transitionAttrs(from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(attrFrom, from),
		attribute.String(attrTo, to),
	}
}

// StageAttr returns the stage attribute, shared with tracing spans.
func StageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func causeAttr(cause string) attribute.KeyValue {
	return attribute.String(attrCause, cause)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}
