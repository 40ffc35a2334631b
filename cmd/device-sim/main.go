// Command device-sim publishes simulated collar reports to the MQTT broker.
// The simulated pet wanders around a centre point and, with -wifi-ratio,
// sometimes reports WiFi access points instead of coordinates.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/onichip/pettrack-backend-go/internal/models"
	pettrackmqtt "github.com/onichip/pettrack-backend-go/internal/mqtt"
	"github.com/onichip/pettrack-backend-go/internal/spatial"
)

type walker struct {
	centerLat, centerLon float64
	radius               float64
	heading              float64 // degrees
	distance             float64
}

// step moves the pet a few metres and keeps it within twice the radius.
func (w *walker) step(stride float64) (lat, lon float64) {
	w.heading = math.Mod(w.heading+(rand.Float64()-0.5)*90+360, 360)
	w.distance += (rand.Float64() - 0.45) * stride
	w.distance = math.Max(0, math.Min(w.distance, 2*w.radius))
	return spatial.DestinationPoint(w.centerLat, w.centerLon, w.heading, w.distance)
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	prefix := flag.String("prefix", "pettrack", "Topic prefix")
	entityID := flag.String("entity-id", "pet-1", "Tracked entity identifier")
	centerLat := flag.Float64("lat", 40.4168, "Centre latitude")
	centerLon := flag.Float64("lon", -3.7038, "Centre longitude")
	radius := flag.Float64("radius", 100, "Typical wandering radius in meters")
	stride := flag.Float64("stride", 15, "Maximum distance change per report in meters")
	interval := flag.Duration("interval", 5*time.Second, "Interval between published reports")
	wifiRatio := flag.Float64("wifi-ratio", 0, "Fraction of reports sent as WiFi scans")
	qos := flag.Int("qos", 1, "MQTT QoS for published reports")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	clientID := fmt.Sprintf("%s-simulator-%d", *entityID, time.Now().UnixNano())
	ackTopic := pettrackmqtt.AckTopic(*prefix, *entityID)
	opts := paho.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("failed to connect to broker", "error", token.Error())
		os.Exit(1)
	}
	logger.Info("connected to MQTT broker", "broker", *brokerAddr, "client_id", clientID)

	if token := client.Subscribe(ackTopic, byte(*qos), func(_ paho.Client, msg paho.Message) {
		logger.Info("ack", "topic", msg.Topic(), "body", string(msg.Payload()))
	}); token.Wait() && token.Error() != nil {
		logger.Warn("failed to subscribe to acks", "error", token.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	w := &walker{centerLat: *centerLat, centerLon: *centerLon, radius: *radius}
	battery := 100
	topic := pettrackmqtt.LocationTopic(*prefix, *entityID)

	publish := func() {
		lat, lon := w.step(*stride)
		now := time.Now().UTC()
		if rand.IntN(20) == 0 && battery > 5 {
			battery--
		}

		report := models.LocationPayload{
			Timestamp: &now,
			Battery:   &models.BatteryReading{Level: battery},
		}
		if rand.Float64() < *wifiRatio {
			report.WifiAccessPoints = scan(lat, lon)
		} else {
			accuracy := 5 + rand.Float64()*10
			report.Latitude, report.Longitude = &lat, &lon
			report.AccuracyMeters = accuracy
			report.Method = models.MethodGPS
		}

		data, err := json.Marshal(report)
		if err != nil {
			logger.Error("failed to encode report", "error", err)
			return
		}
		token := client.Publish(topic, byte(*qos), false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("publish error", "error", err)
			return
		}
		logger.Info("published", "topic", topic, "lat", lat, "lon", lon, "wifi", report.HasWifi())
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal, disconnecting")
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

// scan fakes a WiFi scan. Access points are derived from a coarse grid cell
// so that nearby positions see the same networks and hit the resolver cache.
func scan(lat, lon float64) []models.AccessPoint {
	cellLat := int(math.Round(lat * 2000))
	cellLon := int(math.Round(lon * 2000))
	aps := make([]models.AccessPoint, 0, 4)
	for i := 0; i < 4; i++ {
		aps = append(aps, models.AccessPoint{
			MAC:            fmt.Sprintf("02:%02X:%02X:%02X:%02X:%02X", i, byte(cellLat>>8), byte(cellLat), byte(cellLon>>8), byte(cellLon)),
			SignalStrength: -45 - i*8 - rand.IntN(6),
		})
	}
	return aps
}
