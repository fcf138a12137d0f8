package ai

import "context"

// Message is one turn of model context. ImageURL, when set, points at a
// publicly fetchable image the model should look at alongside Content.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// EmotionClassifier is an optional interface. Providers that implement it
// can label the dominant emotion of a user message with a single word.
type EmotionClassifier interface {
	ClassifyEmotion(ctx context.Context, text string) (string, error)
}
