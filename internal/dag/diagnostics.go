package dag

// DiagnosticSet is the result of one validate or test call. It lives only
// for the current cycle.
type DiagnosticSet []Diagnostic

// Errors returns the error-severity diagnostics.
func (s DiagnosticSet) Errors() DiagnosticSet {
	return s.filter(SeverityError)
}

// Blocking returns the diagnostics that stop a cycle from advancing.
func (s DiagnosticSet) Blocking() DiagnosticSet {
	return s.Errors()
}

// Merge returns a new set holding s followed by other.
func (s DiagnosticSet) Merge(other DiagnosticSet) DiagnosticSet {
	out := make(DiagnosticSet, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// Warnings returns the warning-severity diagnostics.
func (s DiagnosticSet) Warnings() DiagnosticSet {
	return s.filter(SeverityWarning)
}

// HasErrors reports whether any diagnostic has error severity.
func (s DiagnosticSet) HasErrors() bool {
	for _, d := range s {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (s DiagnosticSet) filter(sev Severity) DiagnosticSet {
	var out DiagnosticSet
	for _, d := range s {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// Verdict is the outcome of gating a DiagnosticSet.
type Verdict int

const (
	// Advance means the stage passed; warnings alone never block.
	Advance Verdict = iota
	// Regenerate means at least one error was reported.
	Regenerate
)

func (v Verdict) String() string {
	if v == Regenerate {
		return "regenerate"
	}
	return "advance"
}

// Gate applies the warnings-ignored rule: any error forces regeneration,
// any number of warnings alone lets the cycle advance. It returns the
// diagnostics that must be fed back to the Generator.
func Gate(set DiagnosticSet) (Verdict, DiagnosticSet) {
	if set.HasErrors() {
		return Regenerate, set.Blocking()
	}
	return Advance, nil
}
