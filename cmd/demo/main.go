// Command demo walks one pipeline entry through the sales and production
// workflows against a running gateway. It is deterministic: run it against a
// migrated database seeded with the default catalogs
// (sunpathctl migrate && sunpathctl seed --defaults --tenant <tenant>).
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type apiClient struct {
	baseURL   string
	token     string
	requestID string
	http      *http.Client
}

func newAPIClient(baseURL, token, requestID string) *apiClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &apiClient{
		baseURL:   baseURL,
		token:     strings.TrimSpace(token),
		requestID: strings.TrimSpace(requestID),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(req *http.Request) (*http.Response, []byte, error) {
	if c.requestID != "" {
		req.Header.Set("X-Request-Id", c.requestID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, body, fmt.Errorf("http %s %s: status=%d body=%s", req.Method, req.URL.String(), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, body, nil
}

func (c *apiClient) getJSON(path string, out any) error {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	_, body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) postJSON(path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	_, body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) postMultipart(path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequest("POST", c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	_, respBody, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

type entry struct {
	EntryID      string `json:"entry_id"`
	Name         string `json:"name"`
	CurrentStage string `json:"current_stage"`
}

type decision struct {
	Outcome      string `json:"outcome"`
	RejectKind   string `json:"reject_kind"`
	Message      string `json:"message"`
	IsBackward   bool   `json:"is_backward"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id"`
	FromStage    string `json:"from_stage"`
	ToStage      string `json:"to_stage"`
	TransitionID int64  `json:"transition_id"`
	ApprovalID   string `json:"approval_id"`
}

type stage struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Ord      int    `json:"ord"`
	Terminal bool   `json:"terminal"`
}

type stageList struct {
	Stages []stage `json:"stages"`
}

type document struct {
	DocumentID string `json:"document_id"`
	Kind       string `json:"kind"`
	Flag       string `json:"flag"`
	SHA256     string `json:"sha256"`
}

type workflow struct {
	WorkflowID   string `json:"workflow_id"`
	EntryID      string `json:"entry_id"`
	ProjectID    string `json:"project_id"`
	CurrentStage string `json:"current_stage"`
}

type workflowList struct {
	Workflows []workflow `json:"workflows"`
}

type transitionList struct {
	Transitions []json.RawMessage `json:"transitions"`
}

type esignReceipt struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate"`
	FlagSet   bool `json:"flag_set"`
}

type auditEventList struct {
	Events []json.RawMessage `json:"events"`
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	now := time.Now().UTC()
	defaultRequestID := fmt.Sprintf("demo-%s", now.Format("20060102T150405Z"))
	defaultSuffix := now.Format("20060102-150405")

	var (
		baseURL     = flag.String("gateway", envOr("SUNPATH_GATEWAY_URL", "http://localhost:8080"), "Gateway base URL")
		token       = flag.String("token", envOr("SUNPATH_BEARER_TOKEN", ""), "Bearer token (optional; required for OIDC mode)")
		tenant      = flag.String("tenant", envOr("SUNPATH_DEMO_TENANT", "tenant-demo"), "Tenant id used in the e-sign callback payload")
		esignSecret = flag.String("esign-secret", envOr("SUNPATH_ESIGN_WEBHOOK_SECRET", ""), "E-sign webhook secret (optional; enables the signed-contract step)")
		requestID   = flag.String("request-id", envOr("SUNPATH_DEMO_REQUEST_ID", defaultRequestID), "X-Request-Id for correlation")
		nameSuffix  = flag.String("name-suffix", envOr("SUNPATH_DEMO_SUFFIX", defaultSuffix), "Suffix to avoid name collisions")
	)
	flag.Parse()

	client := newAPIClient(*baseURL, *token, *requestID)

	fmt.Printf("==> sunpath demo (gateway=%s, request_id=%s)\n", client.baseURL, client.requestID)

	// 1) Show the sales catalog
	var stages stageList
	if err := client.getJSON("/api/pipeline/stages?workflow=pipeline", &stages); err != nil {
		die("list stages", err)
	}
	fmt.Printf("==> sales catalog: %d stages (seed with sunpathctl if empty)\n", len(stages.Stages))

	// 2) Create a pipeline entry
	var created entry
	if err := client.postJSON("/api/pipeline/entries", map[string]any{
		"name":        "Demo Homeowner " + *nameSuffix,
		"category":    "residential",
		"value_cents": 2450000,
		"metadata": map[string]any{
			"source": "demo",
			"city":   "Tucson",
		},
	}, &created); err != nil {
		die("create entry", err)
	}
	fmt.Printf("==> created entry: %s (stage=%s)\n", created.EntryID, created.CurrentStage)

	// 3) Walk the sales pipeline to project; entering project provisions the
	// production workflow.
	fromStage := created.CurrentStage
	for _, target := range []string{"qualified", "appointment", "proposal", "contract", "legal_review", "project"} {
		var dec decision
		if err := client.postJSON(fmt.Sprintf("/api/pipeline/entries/%s/transitions", created.EntryID), map[string]any{
			"target_stage": target,
			"from_stage":   fromStage,
		}, &dec); err != nil {
			die("transition entry to "+target, err)
		}
		if dec.Outcome != "allowed" {
			die("transition entry to "+target, fmt.Errorf("outcome=%s kind=%s message=%s", dec.Outcome, dec.RejectKind, dec.Message))
		}
		fmt.Printf("==> entry %s -> %s (transition_id=%d)\n", dec.FromStage, dec.ToStage, dec.TransitionID)
		fromStage = target
	}

	// 4) The production workflow provisioned on entering project
	var workflows workflowList
	if err := client.getJSON("/api/pipeline/production-workflows?entry_id="+url.QueryEscape(created.EntryID), &workflows); err != nil {
		die("list production workflows", err)
	}
	if len(workflows.Workflows) != 1 {
		die("list production workflows", fmt.Errorf("want 1 workflow, got %d", len(workflows.Workflows)))
	}
	wf := workflows.Workflows[0]
	fmt.Printf("==> provisioned production workflow: %s (project=%s stage=%s)\n", wf.WorkflowID, wf.ProjectID, wf.CurrentStage)

	// 5) Upload the utility bill; the document flag flips on entry and workflow
	doc, err := uploadDocument(client, created.EntryID, "utility_bill", "utility-bill.pdf", []byte("%PDF-1.4 demo utility bill "+*nameSuffix))
	if err != nil {
		die("upload utility bill", err)
	}
	fmt.Printf("==> uploaded document: %s (kind=%s flag=%s sha256=%s)\n", doc.DocumentID, doc.Kind, doc.Flag, doc.SHA256[:12])

	// 6) Exit from submit_documents is gated on both document flags; without
	// the signed contract the attempt is rejected and recorded.
	var gated decision
	if err := client.postJSON(fmt.Sprintf("/api/pipeline/production-workflows/%s/transitions", wf.WorkflowID), map[string]any{
		"target_stage": "design_review",
		"from_stage":   "submit_documents",
	}, &gated); err != nil {
		die("attempt gated transition", err)
	}
	if gated.Outcome != "rejected" {
		die("attempt gated transition", fmt.Errorf("want rejected, got outcome=%s", gated.Outcome))
	}
	fmt.Printf("==> document gate held: %s (%s)\n", gated.RejectKind, gated.Message)

	// 7) Signed-contract callback (when the webhook secret is available)
	if strings.TrimSpace(*esignSecret) == "" {
		fmt.Println("==> skipping e-sign callback (set --esign-secret to run it)")
	} else {
		receipt, err := sendEsignCallback(client, *esignSecret, *tenant, created.EntryID)
		if err != nil {
			die("e-sign callback", err)
		}
		fmt.Printf("==> e-sign callback: received=%v duplicate=%v flag_set=%v\n", receipt.Received, receipt.Duplicate, receipt.FlagSet)

		var cleared decision
		if err := client.postJSON(fmt.Sprintf("/api/pipeline/production-workflows/%s/transitions", wf.WorkflowID), map[string]any{
			"target_stage": "design_review",
			"from_stage":   "submit_documents",
		}, &cleared); err != nil {
			die("retry gated transition", err)
		}
		if cleared.Outcome != "allowed" {
			die("retry gated transition", fmt.Errorf("want allowed, got outcome=%s kind=%s message=%s", cleared.Outcome, cleared.RejectKind, cleared.Message))
		}
		fmt.Printf("==> workflow %s -> %s after contract signed\n", cleared.FromStage, cleared.ToStage)
	}

	// 8) History and attempts are append-only
	var history transitionList
	if err := client.getJSON(fmt.Sprintf("/api/pipeline/entries/%s/history", created.EntryID), &history); err != nil {
		die("fetch entry history", err)
	}
	fmt.Printf("==> entry history: %d transitions\n", len(history.Transitions))

	// 9) Every mutation above landed in the audit log under this request id
	var audit auditEventList
	if err := client.getJSON("/api/audit/events?limit=200&request_id="+url.QueryEscape(client.requestID), &audit); err != nil {
		die("fetch audit events", err)
	}
	fmt.Printf("==> audit events: count=%d (request_id=%s)\n", len(audit.Events), client.requestID)

	fmt.Println()
	fmt.Println("Next: inspect the objects over the API.")
	fmt.Printf("  - entry: /api/pipeline/entries/%s\n", created.EntryID)
	fmt.Printf("  - workflow: /api/pipeline/production-workflows/%s\n", wf.WorkflowID)
	fmt.Printf("  - documents: /api/pipeline/entries/%s/documents\n", created.EntryID)
	fmt.Printf("  - attempts: /api/pipeline/production-workflows/%s/attempts\n", wf.WorkflowID)
	fmt.Printf("  - audit: /api/audit/events?request_id=%s\n", client.requestID)
}

func uploadDocument(client *apiClient, entryID, kind, filename string, content []byte) (document, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("kind", kind); err != nil {
		return document{}, err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return document{}, err
	}
	if _, err := part.Write(content); err != nil {
		return document{}, err
	}
	if err := writer.Close(); err != nil {
		return document{}, err
	}

	var doc document
	if err := client.postMultipart(fmt.Sprintf("/api/pipeline/entries/%s/documents", entryID), &buf, writer.FormDataContentType(), &doc); err != nil {
		return document{}, err
	}
	return doc, nil
}

func sendEsignCallback(client *apiClient, secret, tenantID, entryID string) (esignReceipt, error) {
	body, err := json.Marshal(map[string]any{
		"tenant_id":   tenantID,
		"entry_id":    entryID,
		"provider":    "demosign",
		"status":      "completed",
		"envelope_id": "demo-envelope-" + entryID,
	})
	if err != nil {
		return esignReceipt{}, err
	}

	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sum := sha256.Sum256(body)
	msg := strings.Join([]string{ts, http.MethodPost, hex.EncodeToString(sum[:])}, "\n")
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	if _, err := mac.Write([]byte(msg)); err != nil {
		return esignReceipt{}, err
	}
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, client.baseURL+"/api/pipeline/webhooks/esign", bytes.NewReader(body))
	if err != nil {
		return esignReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sunpath-Esign-Ts", ts)
	req.Header.Set("X-Sunpath-Esign-Sig", sig)

	_, respBody, err := client.do(req)
	if err != nil {
		return esignReceipt{}, err
	}
	var receipt esignReceipt
	if err := json.Unmarshal(respBody, &receipt); err != nil {
		return esignReceipt{}, err
	}
	return receipt, nil
}

func die(step string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", step, err)
	os.Exit(1)
}
