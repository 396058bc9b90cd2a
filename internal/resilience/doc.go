// Package resilience wraps unreliable outbound calls (chat completion and
// transcription APIs, the clinic database) with retry-with-backoff, jitter,
// per-operation circuit breaking and call statistics.
//
// Subpackages:
//   - retry: backoff calculation, retryability classification, the retry loop
//   - circuitbreaker: a registry of named breakers built on gobreaker
//   - stats: per-operation call counters
//
// Callers normally go through an Executor, which composes the three:
//
//	ex := resilience.New(logger)
//	reply, err := resilience.Execute(ctx, ex, "openai.chat",
//	    func(ctx context.Context) (string, error) {
//	        return client.Chat(ctx, prompt)
//	    },
//	    resilience.WithPolicy(retry.ChatCompletionPolicy()),
//	    resilience.WithBreakerConfig(circuitbreaker.ChatCompletionConfig()),
//	)
//
// A rejected call returns a *circuitbreaker.CircuitOpenError without running
// the operation:
//
//	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
//	    // degrade
//	}
package resilience
