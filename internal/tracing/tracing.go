// Package tracing turns on Langfuse observability for the ask pipeline's
// LLM calls. Every completion issued through eino (one per question, more
// when retries fire) becomes an inspectable trace, which is the main tool
// for debugging why an answer cited the wrong issues.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost targets a locally run Langfuse instance.
const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler from the LANGFUSE_* env vars.
// Tracing is strictly opt-in: without both keys it reports false and the
// caller skips registration entirely. The returned flush must run before
// process exit or the tail of the trace buffer is lost.
func Setup() (callbacks.Handler, func(), bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      getHost(),
		PublicKey: publicKey,
		SecretKey: secretKey,
	})

	return handler, flush, true
}

// getHost resolves the Langfuse endpoint, preferring LANGFUSE_HOST.
func getHost() string {
	if h := os.Getenv("LANGFUSE_HOST"); h != "" {
		return h
	}
	return defaultHost
}
