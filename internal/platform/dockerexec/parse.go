package dockerexec

import (
	"regexp"
	"strings"

	"dagpilot/internal/dag"
)

var (
	// [2024-05-01T00:00:00.000+0000] {taskinstance.py:2905} ERROR - Task failed
	levelLine = regexp.MustCompile(`^(?:\[[^\]]*\]\s*)?(?:\{([^}]*)\}\s*)?(ERROR|CRITICAL|WARNING)\s+-\s+(.*)$`)
	// /opt/airflow/dags/x.py:3 DeprecationWarning: ...
	pyWarning   = regexp.MustCompile(`^(\S+:\d+):?\s+(\w*Warning):\s*(.*)$`)
	markFailed  = regexp.MustCompile(`Marking task as FAILED`)
	taskIDField = regexp.MustCompile(`task_id=([A-Za-z0-9_.\-]+)`)
	exception   = regexp.MustCompile(`^[A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt)(?::\s*(.*))?$`)
)

// ParseTestOutput classifies the combined output of `airflow dags test`.
// Failed task markers, ERROR lines and the final line of each traceback are
// errors; WARNING lines are warnings. A non-zero exit without any error line
// yields a single generic error.
func ParseTestOutput(output string, exitCode int) dag.DiagnosticSet {
	var diags dag.DiagnosticSet
	seen := make(map[string]bool)
	add := func(d dag.Diagnostic) {
		key := string(d.Severity) + "|" + d.TaskID + "|" + d.Message
		if seen[key] {
			return
		}
		seen[key] = true
		d.Stage = dag.StageTest
		diags = append(diags, d)
	}

	inTraceback := false
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r ")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "Traceback (most recent call last)") {
			inTraceback = true
			continue
		}
		if inTraceback {
			if strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t") {
				continue
			}
			inTraceback = false
			if exception.MatchString(line) {
				add(dag.Diagnostic{Severity: dag.SeverityError, Message: line})
				continue
			}
		}

		if markFailed.MatchString(line) {
			add(dag.Diagnostic{
				Severity: dag.SeverityError,
				Message:  stripPrefix(line),
				TaskID:   taskID(line),
			})
			continue
		}

		if m := levelLine.FindStringSubmatch(line); m != nil {
			sev := dag.SeverityError
			if m[2] == "WARNING" {
				sev = dag.SeverityWarning
			}
			add(dag.Diagnostic{Severity: sev, Message: m[3], Source: m[1], TaskID: taskID(line)})
			continue
		}

		if m := pyWarning.FindStringSubmatch(line); m != nil {
			add(dag.Diagnostic{Severity: dag.SeverityWarning, Message: m[2] + ": " + m[3], Source: m[1]})
		}
	}

	if exitCode != 0 && !diags.HasErrors() {
		diags = append(diags, dag.Diagnostic{
			Severity: dag.SeverityError,
			Stage:    dag.StageTest,
			Message:  "airflow dags test exited with a non-zero status and no error output",
		})
	}
	return diags
}

func taskID(line string) string {
	if m := taskIDField.FindStringSubmatch(line); m != nil {
		return strings.TrimSuffix(m[1], ",")
	}
	return ""
}

// stripPrefix removes the timestamp and logger source from a log line.
func stripPrefix(line string) string {
	if i := strings.Index(line, "} "); i >= 0 && strings.HasPrefix(line, "[") {
		line = line[i+2:]
	}
	for _, lvl := range []string{"INFO - ", "ERROR - ", "WARNING - "} {
		line = strings.TrimPrefix(line, lvl)
	}
	return line
}
