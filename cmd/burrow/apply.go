package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply deployment definitions to a self-hosted runner",
	Long: `Apply one or more deployment definitions from a YAML file through the
local HTTP API. A definition with an id that already exists is updated in
place; anything else is created.

Examples:
  # Apply a deployment definition
  burrow apply -f web.yaml

  # Apply against a runner on another address
  burrow apply -f web.yaml --api http://10.0.0.5:8081 --token $BURROW_TOKEN`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("api", "http://127.0.0.1:8081", "Local API base URL")
	applyCmd.Flags().String("token", os.Getenv("BURROW_TOKEN"), "API token")
	_ = applyCmd.MarkFlagRequired("file")
}

// DeploymentResource is one YAML document accepted by apply
type DeploymentResource struct {
	Kind string         `yaml:"kind"`
	ID   *uuid.UUID     `yaml:"id,omitempty"`
	Spec map[string]any `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	base, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	resources, err := parseResources(data)
	if err != nil {
		return err
	}

	c := &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, res := range resources {
		d, created, err := c.apply(res)
		if err != nil {
			return err
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		fmt.Printf("✓ Deployment %s: %s (ID: %s)\n", verb, d.Spec.Name, d.ID)
	}
	return nil
}

// parseResources reads every YAML document in data
func parseResources(data []byte) ([]DeploymentResource, error) {
	var out []DeploymentResource
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var res DeploymentResource
		err := dec.Decode(&res)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %v", err)
		}
		if res.Kind == "" && res.Spec == nil {
			continue
		}
		if res.Kind != "Deployment" {
			return nil, fmt.Errorf("unsupported resource kind: %q", res.Kind)
		}
		if res.Spec == nil {
			return nil, fmt.Errorf("deployment spec is required")
		}
		out = append(out, res)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no deployments found")
	}
	return out, nil
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// apply creates res, or updates it when its id is already taken
func (c *apiClient) apply(res DeploymentResource) (*types.Deployment, bool, error) {
	body := make(map[string]any, len(res.Spec)+1)
	for k, v := range res.Spec {
		body[k] = v
	}
	if res.ID != nil {
		body["id"] = res.ID.String()
	}

	var d types.Deployment
	code, err := c.do(http.MethodPost, "/v1/deployments", body, &d)
	if code == http.StatusConflict && res.ID != nil {
		delete(body, "id")
		_, err = c.do(http.MethodPut, "/v1/deployments/"+res.ID.String(), body, &d)
		return &d, false, err
	}
	return &d, true, err
}

func (c *apiClient) do(method, path string, in, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach local API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}
