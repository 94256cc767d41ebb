package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stayline/internal/entities"
)

// replyCallTimeout bounds reply generation; a hung AI service must not stall
// webhook handling.
const replyCallTimeout = 20 * time.Second

// ReplyServiceClient calls the external reply-generation microservice. The
// gateway treats it as an opaque text function.
type ReplyServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewReplyServiceClient(baseURL string) *ReplyServiceClient {
	return &ReplyServiceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: replyCallTimeout},
	}
}

type replyRequest struct {
	History         []entities.Message `json:"history"`
	BusinessContext string             `json:"business_context,omitempty"`
}

type replyResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// GenerateReply posts the conversation history and returns the service's
// reply text.
func (c *ReplyServiceClient) GenerateReply(ctx context.Context, history []entities.Message, businessContext string) (string, error) {
	data, err := json.Marshal(replyRequest{History: history, BusinessContext: businessContext})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, replyCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reply", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", entities.NewError(entities.ErrKindTimeout, "reply.generate", "reply service timed out", err)
		}
		return "", entities.NewError(entities.ErrKindProvider, "reply.generate", "reply service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed replyResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != "" {
			msg = parsed.Error
		}
		return "", entities.NewError(entities.ErrKindProvider, "reply.generate", msg, nil)
	}
	return parsed.Reply, nil
}
