// Package unifiedllm presents a provider-agnostic interface for talking to
// language models: messages, tool definitions, streamed events and a shared
// error taxonomy.
//
// # Architecture
//
//   - ProviderAdapter and the shared types (Request, Response, StreamEvent)
//   - Provider utilities: RetryPolicy, ErrorFromStatusCode, IsRetryable
//   - Client: provider routing by name, default provider or model catalog,
//     plus stream middleware such as LogStreamMiddleware
//
// # Adapters
//
// AnthropicAdapter speaks the Anthropic Messages API through anthropic-sdk-go,
// including streaming of text and tool_use blocks. NewEchoAdapter
// points the same adapter at the Echo router, which bills requests to an Echo
// API key. GollmAdapter wraps github.com/teilomillet/gollm for every other
// provider gollm supports.
//
//	adapter := unifiedllm.NewEchoAdapter(apiKey, "https://echo.router.merit.systems")
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("echo", adapter))
//
//	events, _ := client.Stream(ctx, unifiedllm.Request{
//	    Model:    unifiedllm.DefaultModel,
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	acc := unifiedllm.NewStreamAccumulator()
//	for ev := range events {
//	    acc.Process(ev)
//	}
//	fmt.Println(acc.Response().Text())
//
// # Model Catalog
//
// A built-in catalog of known models resolves aliases and routes requests
// that name no provider:
//
//	info := unifiedllm.GetModelInfo("sonnet")
//	cost, ok := unifiedllm.EstimateCost(info.ID, resp.Usage)
package unifiedllm
