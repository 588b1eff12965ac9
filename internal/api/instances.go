package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

// wireInstance is an instance as the backend serialises it.
type wireInstance struct {
	ID         string                 `json:"id"`
	InstanceID string                 `json:"instance_id"`
	Symbol     string                 `json:"symbol"`
	Timeframe  string                 `json:"timeframe"`
	Status     string                 `json:"status"`
	ActivePnl  *float64               `json:"active_pnl"`
	PnlCamel   *float64               `json:"activePnl"`
	BrokerType string                 `json:"broker_type"`
	BrokerAlt  string                 `json:"brokerType"`
	Params     map[string]interface{} `json:"params"`
}

func (w wireInstance) model() models.Instance {
	inst := models.Instance{
		ID:         w.ID,
		Symbol:     w.Symbol,
		Timeframe:  models.Timeframe(w.Timeframe),
		Status:     models.NormalizeStatus(w.Status),
		BrokerType: models.BrokerType(strings.ToUpper(w.BrokerType)),
		Params:     w.Params,
	}
	if inst.ID == "" {
		inst.ID = w.InstanceID
	}
	if inst.Status == "" {
		inst.Status = models.StatusUnknown
	}
	if inst.BrokerType == "" && w.BrokerAlt != "" {
		inst.BrokerType = models.BrokerType(strings.ToUpper(w.BrokerAlt))
	}
	switch {
	case w.ActivePnl != nil:
		inst.ActivePnl = *w.ActivePnl
	case w.PnlCamel != nil:
		inst.ActivePnl = *w.PnlCamel
	}
	return inst
}

// DecodeInstances accepts a bare array or a {strategies:[...]} / {instances:[...]} envelope.
// Entries without an id are skipped and later duplicates replace earlier ones.
func DecodeInstances(b []byte) ([]models.Instance, error) {
	b = bytes.TrimSpace(b)
	var list []wireInstance

	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return []models.Instance{}, nil
	case b[0] == '[':
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, apperrors.NewShapeError("instances", err)
		}
	case b[0] == '{':
		var env struct {
			Strategies []wireInstance `json:"strategies"`
			Instances  []wireInstance `json:"instances"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, apperrors.NewShapeError("instances", err)
		}
		list = env.Strategies
		if list == nil {
			list = env.Instances
		}
	default:
		return nil, apperrors.NewShapeError("instances", nil)
	}

	out := make([]models.Instance, 0, len(list))
	index := make(map[string]int, len(list))
	for _, w := range list {
		inst := w.model()
		if inst.ID == "" {
			continue
		}
		if i, ok := index[inst.ID]; ok {
			out[i] = inst
			continue
		}
		index[inst.ID] = len(out)
		out = append(out, inst)
	}
	return out, nil
}

// ListInstances fetches every strategy instance.
func (c *Client) ListInstances(ctx context.Context) ([]models.Instance, error) {
	b, err := c.getRaw(ctx, "/api/v2/strategies", nil)
	if err != nil {
		return nil, err
	}
	return DecodeInstances(b)
}

// Control issues start, stop or pause on an instance.
func (c *Client) Control(ctx context.Context, id string, action models.ControlAction) (string, error) {
	var resp actionResponse
	body := map[string]string{"action": string(action)}
	if err := c.do(ctx, http.MethodPost, "/api/v2/strategies/"+escape(id)+"/control", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.result("control", id)
}

// DeleteInstance removes an instance.
func (c *Client) DeleteInstance(ctx context.Context, id string) (string, error) {
	var resp actionResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v2/admin/instances/"+escape(id), nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.result("delete", id)
}

// CreateInstance configures a new instance of an installed definition.
func (c *Client) CreateInstance(ctx context.Context, req models.CreateInstanceRequest) (string, error) {
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}
	var resp actionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/admin/instances", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.result("create", req.InstanceID)
}

// InstallStrategy installs a definition from a repository. An empty version installs main.
func (c *Client) InstallStrategy(ctx context.Context, req models.InstallRequest) (string, error) {
	if req.Version == "" {
		req.Version = "main"
	}
	var resp actionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/admin/strategies/install", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.result("install", "")
}
