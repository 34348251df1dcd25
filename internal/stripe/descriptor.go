package stripe

import "strings"

// maxStatementDescriptorLen is Stripe's approximate limit for the
// statement_descriptor plan field.
const maxStatementDescriptorLen = 22

// illegalDescriptorChars lists characters Stripe rejects in a statement
// descriptor, independent of the length limit.
const illegalDescriptorChars = "<>\"'"

// TruncateStatementDescriptor strips characters Stripe disallows in a
// statement descriptor and truncates the result to the field's length
// limit.
func TruncateStatementDescriptor(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(illegalDescriptorChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxStatementDescriptorLen {
		out = out[:maxStatementDescriptorLen]
	}
	return out
}
