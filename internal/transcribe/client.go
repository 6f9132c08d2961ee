package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for transcription.
const DefaultModelName = "gemini-2.5-flash"

// UnrecognizedDescription marks a transaction extracted from a reply that could not be decoded.
const UnrecognizedDescription = "(unrecognized)"

// ContentGenerator is the part of the Gemini API the client uses. *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// PartialTransaction is what the model could tell about one transaction.
// Date and Description may be empty; the caller supplies defaults.
type PartialTransaction struct {
	Date        string
	Description string
	Amount      int64
}

// Client sends recorded clips to Gemini and decodes the answers. It holds no per-request state.
type Client struct {
	gen   ContentGenerator
	model string
	log   zerolog.Logger
	now   func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides DefaultModelName.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock sets the clock that defines "today" in prompts and fallbacks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client talking to the Gemini API with apiKey.
// An empty key is not an error here: every call then fails with KindCredentialMissing.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return NewWithGenerator(nil, opts...), nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewWithGenerator(gc.Models, opts...), nil
}

// NewWithGenerator creates a client over gen. A nil gen means no credential is configured.
func NewWithGenerator(gen ContentGenerator, opts ...Option) *Client {
	c := &Client{
		gen:   gen,
		model: DefaultModelName,
		log:   zerolog.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a credential is available.
func (c *Client) Configured() bool {
	return c.gen != nil
}

// TranscribeVerbatim returns the literal utterance, trimmed.
func (c *Client) TranscribeVerbatim(ctx context.Context, clip capture.Clip) (string, error) {
	const op = "TranscribeVerbatim"
	text, err := c.generate(ctx, op, clip, verbatimPrompt, nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

// TranscribeNormalizedField returns the utterance rewritten by the rules of field.
func (c *Client) TranscribeNormalizedField(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
	const op = "TranscribeNormalizedField"
	text, err := c.generate(ctx, op, clip, fieldPrompt(field, c.now().Year()), nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

// ExtractTransaction asks for one structured transaction. A reply that does not decode
// yields the unrecognized fallback dated today and a nil error.
func (c *Client) ExtractTransaction(ctx context.Context, clip capture.Clip) (PartialTransaction, error) {
	const op = "ExtractTransaction"
	today := domain.FormatDate(c.now())

	text, err := c.generate(ctx, op, clip, extractPrompt(today), transactionConfig())
	if err != nil {
		return PartialTransaction{}, err
	}

	tx, err := decodeTransaction(text)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Str("raw_response", text).Msg("could not decode model reply, using fallback")
		return PartialTransaction{Description: UnrecognizedDescription, Amount: 0, Date: today}, nil
	}
	return tx, nil
}

// Verbatim transcribes clip and never fails: any error is logged and yields "".
func (c *Client) Verbatim(ctx context.Context, clip capture.Clip) string {
	text, err := c.TranscribeVerbatim(ctx, clip)
	if err != nil {
		c.log.Error().Err(err).Msg("transcription failed")
		return ""
	}
	return text
}

func (c *Client) generate(ctx context.Context, op string, clip capture.Clip, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	if c.gen == nil {
		return "", &Error{Kind: KindCredentialMissing, Op: op, Err: ErrNoCredential}
	}
	if len(clip.Data) == 0 {
		return "", &Error{Kind: KindEmpty, Op: op, Err: capture.ErrEmptyClip}
	}

	mime := clip.MIMEType
	if mime == "" {
		mime = capture.DefaultMIMEType
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{
					InlineData: &genai.Blob{
						MIMEType: mime,
						Data:     clip.Data,
					},
				},
				{Text: prompt},
			},
		},
	}

	start := c.now()
	resp, err := c.gen.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", classify(op, err)
	}
	if resp == nil {
		return "", &Error{Kind: KindEmpty, Op: op, Err: fmt.Errorf("nil response from model")}
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &Error{Kind: KindEmpty, Op: op, Err: fmt.Errorf("empty response from model")}
	}

	c.log.Debug().
		Str("op", op).
		Str("model", c.model).
		Str("mime_type", mime).
		Dur("elapsed", c.now().Sub(start)).
		Msg("model replied")
	return text, nil
}

func transactionConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"date":        {Type: genai.TypeString, Description: "Ngày giao dịch DD/MM/YYYY"},
				"description": {Type: genai.TypeString, Description: "Nội dung giao dịch, bán hàng hóa gì"},
				"amount":      {Type: genai.TypeNumber, Description: "Số tiền bằng số (VNĐ)"},
			},
			Required: []string{"description", "amount"},
		},
	}
}
