package app

// Compiled-in modules register themselves with the core registry.
import (
	_ "github.com/flemzord/storeguard/internal/chat"
	_ "github.com/flemzord/storeguard/internal/gateway"
	_ "github.com/flemzord/storeguard/modules/provider/gemini"
	_ "github.com/flemzord/storeguard/modules/provider/openai"
)
