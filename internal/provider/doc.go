// Package provider adapts language-model backends to a pull-based fragment
// stream.
//
// Every backend reports failures the same way. A failure before the first
// fragment is an *Error; a failure after it is an *InterruptedError carrying
// the partial text. Callers tell them apart with errors.As:
//
//	var interrupted *provider.InterruptedError
//	if errors.As(err, &interrupted) {
//	    log.Printf("lost stream after %q", interrupted.Partial)
//	}
//
// Backends: OpenAI (and any OpenAI-compatible base URL), Anthropic, Echo for
// local development, and Scripted for tests. New wraps the configured backend
// with WithLimit and WithTimeout.
package provider
