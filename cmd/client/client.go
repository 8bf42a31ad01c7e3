package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"kestrel/internal/common"
	kestrelNet "kestrel/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.Uint("owner", 0, "Owner id (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'top']")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	tifStr := flag.String("tif", "gtc", "Time in force: 'gtc', 'ioc' or 'fok'")
	priceStr := flag.String("price", "100", "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,0.5)")

	// Cancel Parameters
	id := flag.Uint64("id", 0, "Id of the order to cancel")

	// How long to keep listening for reports
	wait := flag.Duration("wait", 2*time.Second, "How long to wait for reports before exiting")

	flag.Parse()

	// Validation
	if *owner == 0 {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as %d\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn)

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		price, err := decimal.NewFromString(*priceStr)
		if err != nil {
			log.Fatal().Err(err).Str("price", *priceStr).Msg("invalid price")
		}
		side, orderType, tif := parseOrderKind(*sideStr, *typeStr, *tifStr)

		for _, q := range parseQuantities(*qtyStr) {
			msg := kestrelNet.NewOrderMessage{
				OrderType:   orderType,
				Side:        side,
				TimeInForce: tif,
				Owner:       uint32(*owner),
				Price:       price,
				Quantity:    q,
			}
			payload, err := msg.Serialize()
			if err != nil {
				log.Error().Err(err).Str("qty", q.String()).Msg("unable to encode order")
				continue
			}
			if err := kestrelNet.WriteFrame(conn, payload); err != nil {
				log.Error().Err(err).Str("qty", q.String()).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s %s %s: %s @ %s\n", strings.ToUpper(tif.String()), side, orderType, q, price)
		}

	case "cancel":
		if *id == 0 {
			log.Fatal().Msg("-id is required for cancellation")
		}
		msg := kestrelNet.CancelOrderMessage{Owner: uint32(*owner), OrderID: *id}
		if err := kestrelNet.WriteFrame(conn, msg.Serialize()); err != nil {
			log.Error().Err(err).Msg("failed to send cancel request")
		} else {
			fmt.Printf("-> Sent Cancel Request for %d\n", *id)
		}

	case "top":
		msg := kestrelNet.BaseMessage{TypeOf: kestrelNet.QueryTop}
		if err := kestrelNet.WriteFrame(conn, msg.Serialize()); err != nil {
			log.Error().Err(err).Msg("failed to send top of book request")
		} else {
			fmt.Println("-> Sent Top Of Book Request")
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive reports
	fmt.Println("\nListening for reports...")
	time.Sleep(*wait)
}

func parseOrderKind(sideStr, typeStr, tifStr string) (common.Side, common.OrderType, common.TimeInForce) {
	side := common.Bid
	if strings.ToLower(sideStr) == "sell" {
		side = common.Ask
	}

	orderType := common.LimitOrder
	if strings.ToLower(typeStr) == "market" {
		orderType = common.MarketOrder
	}

	tif := common.GTC
	switch strings.ToLower(tifStr) {
	case "ioc":
		tif = common.IOC
	case "fok":
		tif = common.FOK
	}
	return side, orderType, tif
}

// parseQuantities splits a comma-separated string into decimals
func parseQuantities(input string) []decimal.Decimal {
	parts := strings.Split(input, ",")
	var result []decimal.Decimal
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := decimal.NewFromString(p); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

// readReports continuously reads and prints reports from the server
func readReports(conn net.Conn) {
	for {
		payload, err := kestrelNet.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("connection lost")
			}
			return
		}

		r, err := kestrelNet.ParseReport(payload)
		if err != nil {
			log.Error().Err(err).Msg("malformed report")
			continue
		}

		switch r.MessageType {
		case kestrelNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] order %d: %s\n", r.OrderID, r.Err)
		case kestrelNet.AckReport:
			fmt.Printf("\n[ACK] order %d %s | Remaining: %s | Price: %s\n", r.OrderID, r.Side, r.Quantity, r.Price)
		case kestrelNet.ExecutionReport:
			fmt.Printf("\n[EXECUTION] order %d %s | Qty: %s | Price: %s | vs: %d | Trade: %s\n",
				r.OrderID, r.Side, r.Quantity, r.Price, r.Counterparty, r.TradeID)
		case kestrelNet.TopReport:
			if r.OrderID == 0 {
				fmt.Printf("\n[TOP] %s: empty\n", r.Side)
			} else {
				fmt.Printf("\n[TOP] %s: order %d | %s @ %s\n", r.Side, r.OrderID, r.Quantity, r.Price)
			}
		}
	}
}
