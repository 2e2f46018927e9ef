package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qmux-go/qmux/qmux"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML qmux config file")
	devicePath := flag.String("device", "/dev/cdc-wdm0", "character device path, used when -config is not given")
	name := flag.String("name", "qmuxctl", "name to tag log lines with")
	flag.Parse()

	cfg := qmux.Config{Name: *name, DevicePath: *devicePath}
	if *configPath != "" {
		loaded, err := qmux.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "qmuxctl: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	r := qmux.New(cfg, os.Stderr, qmux.WithIndicationCallback(func(ind *qmux.Indication) {
		fmt.Printf("indication: service=%s client=%d message_id=0x%04x bytes=%s\n",
			ind.ServiceID, ind.ClientID, ind.MessageID, hex.EncodeToString(ind.Message))
	}))
	defer r.Shutdown()

	fmt.Printf("qmuxctl: talking to %s\n> ", cfg.DevicePath)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		words := strings.Fields(line)
		switch words[0] {
		case "call": // call <serviceID> <clientID> <payloadHex>
			if len(words) != 4 {
				fmt.Println("ERROR: usage: call <serviceID> <clientID> <payloadHex>")
				break
			}
			runCall(r, words[1], words[2], words[3])
		case "stats":
			s := r.Stats()
			fmt.Printf("outstanding control=%v service=%v reopens=%d\n",
				s.OutstandingControl, s.OutstandingService, s.ReopenCount)
		case "quit", "exit":
			fmt.Println("qmuxctl: shutting down")
			return
		default:
			fmt.Printf("ERROR: unknown command %q\n", words[0])
		}
		fmt.Print("> ")
	}
}

func runCall(r *qmux.Reactor, serviceArg, clientArg, payloadArg string) {
	serviceID, err := strconv.ParseUint(serviceArg, 10, 8)
	if err != nil {
		fmt.Printf("ERROR: invalid service id: %v\n", err)
		return
	}
	clientID, err := strconv.ParseUint(clientArg, 10, 8)
	if err != nil {
		fmt.Printf("ERROR: invalid client id: %v\n", err)
		return
	}
	payload, err := hex.DecodeString(payloadArg)
	if err != nil {
		fmt.Printf("ERROR: invalid payload hex: %v\n", err)
		return
	}

	resp, err := r.Call(&qmux.Request{
		ServiceID: qmux.ServiceID(serviceID),
		ClientID:  byte(clientID),
		Payload:   payload,
		Decode: func(message []byte) (interface{}, error) {
			return message, nil
		},
	}, 5*time.Second)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}
	fmt.Printf("OK: %s\n", hex.EncodeToString(resp.([]byte)))
}
