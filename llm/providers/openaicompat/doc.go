// Package openaicompat implements llm.Provider for chat completion endpoints
// that speak the OpenAI wire format.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o",
//	}, logger)
package openaicompat
