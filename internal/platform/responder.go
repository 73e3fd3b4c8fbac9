package platform

import (
	"context"
	"fmt"

	"github.com/cjephuneh/subsplitAI-sub000/pkg/models"
)

// Responder produces the platform-side reply for a metered request.
// The marketplace never holds real platform sessions open; replies are
// simulated so usage metering can be exercised end to end.
type Responder interface {
	Respond(ctx context.Context, platform, requestType, message string) (string, error)
}

// Simulated is the default Responder. Replies are deterministic per
// platform so tests can assert on them.
type Simulated struct{}

// NewSimulated creates a Simulated responder
func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) Respond(_ context.Context, platform, requestType, message string) (string, error) {
	if !models.IsSupportedPlatform(platform) {
		return "", fmt.Errorf("unsupported platform %q", platform)
	}

	var persona string
	switch platform {
	case models.PlatformChatGPT:
		persona = "ChatGPT"
	case models.PlatformClaude:
		persona = "Claude"
	case models.PlatformGemini:
		persona = "Gemini"
	}

	switch requestType {
	case models.RequestTypeEmbedding:
		return fmt.Sprintf("[%s] embedding vector for %d characters", persona, len(message)), nil
	case models.RequestTypeCompletion:
		return fmt.Sprintf("[%s] completion: %.40s...", persona, message), nil
	default:
		return fmt.Sprintf("[%s] This is a simulated response to your message (%d characters processed).", persona, len(message)), nil
	}
}
