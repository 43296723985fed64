package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simoon5769/AugmentOS-sub002/audio"
	"github.com/simoon5769/AugmentOS-sub002/cloud"
	"github.com/simoon5769/AugmentOS-sub002/glasses"
	"github.com/simoon5769/AugmentOS-sub002/server"
	"github.com/simoon5769/AugmentOS-sub002/utils"
)

func main() {
	addr := flag.String("addr", ":5000", "local HTTP listen address")
	cloudURL := flag.String("cloud-url", os.Getenv("CLOUD_WS_URL"), "cloud websocket URL")
	authToken := flag.String("token", os.Getenv("CLOUD_AUTH_TOKEN"), "cloud auth token")
	searchID := flag.String("search-id", "", "pairing code embedded in the glasses' advertised name")
	adapter := flag.String("adapter", "/org/bluez/hci0", "BlueZ adapter object path")
	flag.Parse()

	wsHub := utils.NewWebSocketHub()

	// BlueZ may still be starting when we come up; keep trying.
	var transport *glasses.BluezTransport
	var err error
	for retries := 0; retries < 10; retries++ {
		transport, err = glasses.NewBluezTransport(*adapter)
		if err == nil {
			break
		}
		log.Printf("Failed to initialize BlueZ transport (attempt %d/10): %v", retries+1, err)
		time.Sleep(3 * time.Second)
	}
	if transport == nil {
		log.Fatalf("Could not initialize BlueZ transport: %v", err)
	}

	manager := glasses.NewManager(glasses.DefaultConfig(), transport)

	var cloudClient *cloud.Client
	if *cloudURL != "" {
		cloudClient = cloud.NewClient(cloud.DefaultClientConfig(*cloudURL, *authToken))
	} else {
		log.Println("No cloud URL configured, running local-only")
		cloudClient = cloud.NewClient(cloud.Config{})
	}

	// Glasses mic audio flows through the pipeline and up to the cloud.
	pipeline := audio.NewPipeline(audio.NewPCMCodec())
	pipeline.AddSink(func(frame []byte) {
		cloudClient.SendAudio(frame)
	})
	pipeline.Start()

	manager.OnMicData(func(side glasses.Side, seq byte, frame []byte) {
		pipeline.Push(frame)
	})

	// Cloud-originated control.
	cloudClient.OnMessage(cloud.TypeDisplayEvent, func(payload json.RawMessage) {
		var ev cloud.DisplayEventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("Bad display_event payload: %v", err)
			return
		}
		var req utils.DisplayRequest
		req.View = ev.View
		req.Layout.LayoutType = ev.Layout.LayoutType
		req.Layout.Text = ev.Layout.Text
		req.Layout.TopText = ev.Layout.TopText
		req.Layout.BottomText = ev.Layout.BottomText
		if err := server.DispatchDisplay(manager, req); err != nil {
			log.Printf("Display from cloud failed: %v", err)
		}
	})

	cloudClient.OnMessage(cloud.TypeMicStateChange, func(payload json.RawMessage) {
		var st cloud.MicStatePayload
		if err := json.Unmarshal(payload, &st); err != nil {
			log.Printf("Bad microphone_state_change payload: %v", err)
			return
		}
		if err := manager.SetMicEnabled(st.Enabled); err != nil {
			log.Printf("Mic toggle failed: %v", err)
		}
	})

	cloudClient.OnStatus(func(s cloud.Status) {
		wsHub.Broadcast(utils.WebSocketEvent{
			Type:    "cloud_status",
			Payload: utils.CloudStatusPayload{Status: s.String()},
		})
	})

	// Glasses events fan out to local UI clients and to the cloud.
	go func() {
		for {
			select {
			case order, ok := <-manager.Orders():
				if !ok {
					return
				}
				wsHub.Broadcast(utils.WebSocketEvent{
					Type: "device_order",
					Payload: utils.DeviceOrderPayload{
						Side:  order.Side.String(),
						Order: order.Name(),
					},
				})
			case tele, ok := <-manager.Telemetry():
				if !ok {
					return
				}
				wsHub.Broadcast(utils.WebSocketEvent{
					Type: "glasses_telemetry",
					Payload: utils.TelemetryPayload{
						BatteryLevel: tele.BatteryLevel,
						BatteryLeft:  tele.BatteryLeft,
						BatteryRight: tele.BatteryRight,
						CaseOpen:     tele.CaseOpen,
						CaseCharging: tele.CaseCharging,
					},
				})
				err := cloudClient.SendEvent(cloud.TypeBatteryUpdate, cloud.BatteryUpdatePayload{
					Level:        tele.BatteryLevel,
					Left:         tele.BatteryLeft,
					Right:        tele.BatteryRight,
					CaseOpen:     tele.CaseOpen,
					CaseCharging: tele.CaseCharging,
				})
				if err != nil {
					log.Printf("Battery update to cloud failed: %v", err)
				}
			case pair, ok := <-manager.Status():
				if !ok {
					return
				}
				wsHub.Broadcast(utils.WebSocketEvent{
					Type: "connection_status",
					Payload: utils.ConnectionStatusPayload{
						Status:    pair.String(),
						Timestamp: time.Now().UnixMilli(),
					},
				})
			}
		}
	}()

	if err := manager.Start(*searchID); err != nil {
		log.Fatalf("Failed to start glasses manager: %v", err)
	}

	if *cloudURL != "" {
		if err := cloudClient.Connect(); err != nil {
			// The reconnect loop takes over from here.
			log.Printf("Initial cloud connect failed: %v", err)
		}
	}

	srv := server.New(*addr, manager, cloudClient, wsHub)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	srv.Shutdown()
	cloudClient.Disconnect()
	pipeline.Stop()
	manager.Stop()
}
