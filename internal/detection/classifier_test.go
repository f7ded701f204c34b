package detection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRemoteClassifier_RequiresURL(t *testing.T) {
	if _, err := NewRemoteClassifier(" ", 0, nil); err == nil {
		t.Fatal("NewRemoteClassifier() error = nil, want error for empty URL")
	}
}

func TestRemoteClassifier_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("request = %s %s, want POST /predict", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile(image) error = %v", err)
		} else {
			body, _ := io.ReadAll(file)
			if string(body) != "leaf-bytes" || header.Filename != "leaf.png" {
				t.Errorf("upload = %q (%s)", body, header.Filename)
			}
		}
		if got := r.FormValue("top_k"); got != "3" {
			t.Errorf("top_k = %q, want 3", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"disease":"Tomato_Early_blight","confidence":0.91,
			"top_predictions":[{"disease":"Tomato_Early_blight","confidence":0.91},{"disease":"Tomato_healthy","confidence":0.05}]}`))
	}))
	defer server.Close()

	c, err := NewRemoteClassifier(server.URL+"/", time.Second, nil)
	if err != nil {
		t.Fatalf("NewRemoteClassifier() error = %v", err)
	}
	p, err := c.Predict(context.Background(), "leaf.png", []byte("leaf-bytes"), 3)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.Disease != "Tomato_Early_blight" || p.Confidence != 0.91 || len(p.TopPredictions) != 2 {
		t.Errorf("Predict() = %+v", p)
	}
}

func TestRemoteClassifier_PredictErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantMsg: "HTTP 500"},
		{name: "malformed body", status: http.StatusOK, body: `{"disease":`, wantMsg: "decode"},
		{name: "missing label", status: http.StatusOK, body: `{"confidence":0.5}`, wantMsg: "no label"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, _ := NewRemoteClassifier(server.URL, time.Second, nil)
			_, err := c.Predict(context.Background(), "leaf.jpg", []byte("x"), 3)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("Predict() error = %v, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRemoteClassifier_Info(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("path = %q, want /info", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"num_classes":2,"device":"cpu","model_type":"ResNet50","input_size":"224x224",
			"diseases":["Tomato_Early_blight","Tomato_healthy"]}`))
	}))
	defer server.Close()

	c, _ := NewRemoteClassifier(server.URL, time.Second, nil)
	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.NumClasses != 2 || info.Device != "cpu" || len(info.Diseases) != 2 {
		t.Errorf("Info() = %+v", info)
	}
}
