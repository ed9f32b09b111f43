package types

// SecretString holds a sensitive value (bot token, database URL) and redacts
// itself under fmt and JSON serialization so secrets cannot leak through log
// lines or config dumps. Call Unmask only at the point the raw value is
// handed to a driver or an Authorization header.
type SecretString string

const redacted = `***REDACTED***`

// String returns the redacted placeholder. Satisfies fmt.Stringer, so any
// %v/%s formatting of the value is safe.
func (s SecretString) String() string { return redacted }

// MarshalJSON serializes to the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string { return string(s) }

// IsSet reports whether a value is present.
func (s SecretString) IsSet() bool { return s != "" }
