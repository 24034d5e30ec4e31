// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"

	"github.com/pdiddy/compose-engine/internal/httputil"
	"github.com/pdiddy/compose-engine/pkg/types"
)

// sectionPromptTmpl is the prompt sent to the Claude API for one section.
// The model writes prose with {{elem:ID}} placeholders and returns a JSON
// envelope the generator decodes into a GenerationResult.
var sectionPromptTmpl = template.Must(template.New("section").Parse(`You are a technical document composition system writing one section of the document "{{.PlanTitle}}".

Section to write:
- id: {{.Section.ID}}
- title: {{.Section.Title}}
{{- if .Section.Role}}
- role: {{.Section.Role}}
{{- end}}
{{- if gt .Section.Words.Max 0}}
- target length: {{.Section.Words.Min}}-{{.Section.Words.Max}} words
{{- end}}

{{if .ContextBlock}}Context from sections this one builds on:
{{.ContextBlock}}
{{end -}}

Rules:
- Write the section body only; no heading.
- Reference any table, figure, equation, or code listing you produce with an inline placeholder of the form {{"{{"}}elem:ID{{"}}"}}. Do not number them yourself.
- Element ids must be lowercase and hyphenated (e.g. "tbl-results").

Respond with a single JSON object and no other text:
{"text": "section prose with placeholders",
 "elements": [{"id": "tbl-results", "type": "table", "body": "...", "caption": "..."}],
 "context_writes": {"summary": "one-paragraph summary for dependent sections"},
 "accumulate": {"references": ["citation keys used"]}}

Valid element types: table, figure, equation, code.
`))

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeGenerator produces section content through the Claude Messages API.
type ClaudeGenerator struct {
	APIKey string
	Model  string
	Client *http.Client
}

// NewClaudeGenerator builds a generator from config, wrapped with retry.
func NewClaudeGenerator(cfg types.GeneratorConfig) Generator {
	return WithRetry(&ClaudeGenerator{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Client: &http.Client{Timeout: cfg.Timeout},
	}, cfg.MaxRetries)
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// sectionEnvelope is the JSON contract the model answers with.
type sectionEnvelope struct {
	Text          string              `json:"text"`
	Elements      []envelopeElement   `json:"elements"`
	ContextWrites map[string]string   `json:"context_writes"`
	Accumulate    map[string][]string `json:"accumulate"`
}

type envelopeElement struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Body    string `json:"body"`
	Caption string `json:"caption"`
}

var validElementTypes = map[types.ElementType]bool{
	types.ElementTable:    true,
	types.ElementFigure:   true,
	types.ElementEquation: true,
	types.ElementCode:     true,
}

// Generate renders the section prompt, calls the API, and decodes the
// response envelope. HTTP 429 responses are retried with backoff inside
// httputil before the outer retry wrapper sees an error.
func (c *ClaudeGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	prompt, err := c.renderPrompt(req)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("rendering prompt: %w", err)
	}

	body, err := json.Marshal(claudeRequest{
		Model:     c.Model,
		MaxTokens: 8192,
		Messages:  []claudeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return GenerationResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, httpReq, 0)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return GenerationResult{}, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return GenerationResult{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		return decodeEnvelope(block.Text, req.Section.ID)
	}
	return GenerationResult{}, fmt.Errorf("no text content in Claude API response")
}

// renderPrompt builds the section prompt, including the dependency context
// the model is allowed to see.
func (c *ClaudeGenerator) renderPrompt(req GenerationRequest) (string, error) {
	var ctxLines []string
	deps := append([]string{}, req.Section.DependsOn...)
	sort.Strings(deps)
	for _, dep := range deps {
		if sum, err := req.Context.Read(dep, "summary"); err == nil {
			ctxLines = append(ctxLines, fmt.Sprintf("- %s: %s", dep, sum))
		}
	}

	var buf bytes.Buffer
	err := sectionPromptTmpl.Execute(&buf, struct {
		PlanTitle    string
		Section      types.Section
		ContextBlock string
	}{
		PlanTitle:    req.PlanTitle,
		Section:      req.Section,
		ContextBlock: strings.Join(ctxLines, "\n"),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// decodeEnvelope parses and validates the model's JSON answer.
func decodeEnvelope(text, sectionID string) (GenerationResult, error) {
	var env sectionEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return GenerationResult{}, fmt.Errorf("parsing section envelope: %w", err)
	}
	if strings.TrimSpace(env.Text) == "" {
		return GenerationResult{}, fmt.Errorf("section envelope has empty text")
	}

	res := GenerationResult{
		Text:          env.Text,
		ContextWrites: env.ContextWrites,
		Accumulate:    env.Accumulate,
	}
	for i, el := range env.Elements {
		elType := types.ElementType(el.Type)
		if !validElementTypes[elType] {
			return GenerationResult{}, fmt.Errorf("element %d: invalid type %q", i, el.Type)
		}
		if el.ID == "" {
			return GenerationResult{}, fmt.Errorf("element %d: empty id", i)
		}
		res.Elements = append(res.Elements, types.Element{
			ID:        el.ID,
			Type:      elType,
			Body:      el.Body,
			Caption:   el.Caption,
			SectionID: sectionID,
		})
	}
	return res, nil
}
