// Package character calls the external image and 3D model generation endpoints.
package character

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/httpjson"
	"github.com/and161185/charforge/internal/model"
	"github.com/go-playground/validator/v10"
)

// Client is a single-attempt client of the generation service.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

// New returns a Client for baseURL. Generation is slow, so a nil client gets
// a five minute timeout.
func New(baseURL string, c *http.Client) *Client {
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c, validate: validator.New()}
}

// GenerateImage renders a character image from p.
func (c *Client) GenerateImage(ctx context.Context, p model.ImageParams) (model.ImageResult, error) {
	const op = "character.GenerateImage"
	if err := c.validate.Struct(p); err != nil {
		return model.ImageResult{}, fmt.Errorf("%s: %w: %v", op, errs.ErrInvalidArgument, err)
	}
	var out model.ImageResult
	if err := httpjson.Post(ctx, c.http, c.baseURL+"/generate/image", p, &out); err != nil {
		return model.ImageResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.ImageURL == "" {
		return model.ImageResult{}, fmt.Errorf("%s: %w", op, errors.New("response has no image url"))
	}
	return out, nil
}

type modelRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
}

// GenerateModel builds a 3D model from a generated image.
func (c *Client) GenerateModel(ctx context.Context, imageURL string) (model.ModelResult, error) {
	const op = "character.GenerateModel"
	req := modelRequest{ImageURL: imageURL}
	if err := c.validate.Struct(req); err != nil {
		return model.ModelResult{}, fmt.Errorf("%s: %w: %v", op, errs.ErrInvalidArgument, err)
	}
	var out model.ModelResult
	if err := httpjson.Post(ctx, c.http, c.baseURL+"/generate/model", req, &out); err != nil {
		return model.ModelResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.ModelURL == "" {
		return model.ModelResult{}, fmt.Errorf("%s: %w", op, errors.New("response has no model url"))
	}
	return out, nil
}
