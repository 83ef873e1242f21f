package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartTail(cmd *cobra.Command, args []string) {
	target, _ := cmd.Flags().GetString("url")
	apiKey, _ := cmd.Flags().GetString("api-key")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if apiKey != "" {
		header.Set("X-API-Key", apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			logrus.WithField("status", resp.StatusCode).Fatalf("stream gateway refused the connection: %v", err)
		}
		logrus.Fatalf("failed to connect to stream gateway: %v", err)
	}
	defer conn.Close()

	logrus.WithField("url", target).Info("connected, waiting for price frames")

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logrus.Errorf("stream closed: %v", err)
			}
			return
		}

		var frame entity.ClientPriceFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logrus.Warnf("unexpected frame %q: %v", string(data), err)
			continue
		}
		logrus.WithFields(logrus.Fields{
			"stock": frame.Stock,
			"price": frame.Price,
		}).Info("price")
	}
}
