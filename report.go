//go:build tinygo

package main

import (
	"errors"
	"log/slog"
	"net/netip"
	"strconv"
	"time"

	"fieldtrack/tracker/version"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
	mqtt "github.com/soypat/natiu-mqtt"
)

const (
	mqttTimeout = 10 * time.Second
	mqttRetries = 3
	mqttBufSize = 256
)

var topicBoot = []byte("fieldtrack/boot")

// Pre-allocated buffers for memory efficiency
var (
	reportRxBuf [1024]byte
	reportTxBuf [512]byte
	mqttUserBuf [mqttBufSize]byte
	payloadBuf  [mqttBufSize]byte
)

// MQTT publish flags (QoS0, not retained, not dup)
var pubFlags, _ = mqtt.NewPublishFlags(mqtt.QoS0, false, false)

// publishBootReport announces how this boot resolved on the boot topic.
// Best effort: errors are the caller's to log and drop, never to act on.
func publishBootReport(
	stack *xnet.StackAsync,
	brokerAddr netip.AddrPort,
	logger *slog.Logger,
	mode BootMode,
	outcome string,
	bootCount uint32,
) error {
	rstack := stack.StackRetrying(5 * time.Millisecond)

	var conn tcp.Conn
	err := conn.Configure(tcp.ConnConfig{
		RxBuf:             reportRxBuf[:],
		TxBuf:             reportTxBuf[:],
		TxPacketQueueSize: 3,
	})
	if err != nil {
		return err
	}

	cfg := mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: mqttUserBuf[:]},
	}

	var varconn mqtt.VariablesConnect
	// Append random suffix to client ID to avoid conflicts with parallel units
	clientID := make([]byte, 0, 32)
	clientID = append(clientID, "fieldtrack-"...)
	clientID = appendHex(clientID, uint16(stack.Prand32()))
	varconn.SetDefaultMQTT(clientID)
	client := mqtt.NewClient(cfg)

	// Random local port
	lport := uint16(stack.Prand32()>>17) + 1024
	logger.Info("report:dialing",
		slog.String("broker", brokerAddr.String()),
		slog.String("clientid", string(clientID)),
	)

	err = rstack.DoDialTCP(&conn, lport, brokerAddr, mqttTimeout, mqttRetries)
	if err != nil {
		closeConn(&conn, stack, brokerAddr)
		return err
	}

	conn.SetDeadline(time.Now().Add(mqttTimeout))
	err = client.StartConnect(&conn, &varconn)
	if err != nil {
		closeConn(&conn, stack, brokerAddr)
		return err
	}

	// Wait for MQTT connection
	retries := 50
	for retries > 0 && !client.IsConnected() {
		time.Sleep(100 * time.Millisecond)
		client.HandleNext()
		retries--
	}
	if !client.IsConnected() {
		closeConn(&conn, stack, brokerAddr)
		return errors.New("report: mqtt connect timeout")
	}

	payload := payloadBuf[:0]
	payload = append(payload, "fw="...)
	payload = append(payload, version.Version...)
	payload = append(payload, " mode="...)
	payload = append(payload, mode.String()...)
	payload = append(payload, " outcome="...)
	payload = append(payload, outcome...)
	payload = append(payload, " boots="...)
	payload = strconv.AppendUint(payload, uint64(bootCount), 10)

	conn.SetDeadline(time.Now().Add(mqttTimeout))
	pubVar := mqtt.VariablesPublish{
		TopicName:        topicBoot,
		PacketIdentifier: uint16(stack.Prand32()),
	}
	err = client.PublishPayload(pubFlags, pubVar, payload)
	if err != nil {
		closeConn(&conn, stack, brokerAddr)
		return err
	}
	logger.Info("report:published", slog.String("topic", string(topicBoot)))

	// Let the publish drain before tearing the session down.
	time.Sleep(200 * time.Millisecond)
	client.Disconnect(errors.New("report complete"))
	closeConn(&conn, stack, brokerAddr)
	return nil
}
