package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/livemap/internal/models"
)

// FCMPusher posts SOS alerts to an FCM HTTPv1 endpoint so members get a
// device push even when no websocket is connected.
type FCMPusher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMPusher(endpoint, key string) *FCMPusher {
	return &FCMPusher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMPusher) PushSOS(ctx context.Context, a models.SOSAlert) error {
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"topic": "group-" + a.GroupID,
			"data": map[string]interface{}{
				"type":      "sos_alert",
				"member_id": a.MemberID,
				"name":      a.Name,
				"lat":       fmt.Sprintf("%f", a.Loc.Lat),
				"lng":       fmt.Sprintf("%f", a.Loc.Lng),
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint status %d", resp.StatusCode)
	}
	return nil
}
