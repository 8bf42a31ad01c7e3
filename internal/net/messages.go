package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"kestrel/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrInvalidDecimal     = errors.New("invalid decimal")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	QueryTop
)

type ReportMessageType int

const (
	AckReport ReportMessageType = iota
	ExecutionReport
	ErrorReport
	TopReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	FrameHeaderLen              = 2
	MaxFrameLen                 = 1<<16 - 1
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 1 + 1 + 1 + 4 + 1 + 1
	CancelOrderMessageHeaderLen = 4 + 8
)

// --- Framing ----------------------------------------------------------------

// Every message and report travels as a 2 byte big endian length followed by
// that many bytes of payload.

func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameLen {
		return ErrMessageTooLong
	}
	buf := make([]byte, FrameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[FrameHeaderLen:], payload)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, FrameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	return readFrameBody(r, header)
}

func readFrameBody(r io.Reader, header []byte) ([]byte, error) {
	body := make([]byte, binary.BigEndian.Uint16(header))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// --- Decimals ---------------------------------------------------------------

// Decimals are carried as their exact ASCII representation behind a 1 byte
// length, so none may be longer than common.MaxDecimalLen.

func checkDecimals(ds ...decimal.Decimal) error {
	for _, d := range ds {
		if len(d.String()) > common.MaxDecimalLen {
			return fmt.Errorf("%w: decimal of %d characters", ErrMessageTooLong, len(d.String()))
		}
	}
	return nil
}

func putDecimal(buf []byte, d decimal.Decimal) int {
	s := d.String()
	buf[0] = byte(len(s))
	return 1 + copy(buf[1:], s)
}

func decimalLen(d decimal.Decimal) int {
	return 1 + len(d.String())
}

func readDecimal(msg []byte) (decimal.Decimal, int, error) {
	if len(msg) < 1 {
		return decimal.Zero, 0, ErrMessageTooShort
	}
	n := int(msg[0])
	if len(msg) < 1+n {
		return decimal.Zero, 0, ErrMessageTooShort
	}
	d, err := decimal.NewFromString(string(msg[1 : 1+n]))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, msg[1:1+n])
	}
	return d, 1 + n, nil
}

// --- Client messages --------------------------------------------------------

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf, uint16(m.TypeOf))
	return buf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat, QueryTop:
		return BaseMessage{TypeOf: typeOf}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType   common.OrderType   // 1 byte
	Side        common.Side        // 1 byte
	TimeInForce common.TimeInForce // 1 byte
	Owner       uint32             // 4 bytes
	Price       decimal.Decimal    // 1 byte length + n bytes
	Quantity    decimal.Decimal    // 1 byte length + n bytes
}

// Order builds the order to submit. The engine assigns its ID.
func (m *NewOrderMessage) Order() common.Order {
	return common.Order{
		Owner:       m.Owner,
		Price:       m.Price,
		Quantity:    m.Quantity,
		Balance:     m.Quantity,
		OrderType:   m.OrderType,
		Side:        m.Side,
		TimeInForce: m.TimeInForce,
	}
}

func (m NewOrderMessage) Serialize() ([]byte, error) {
	if err := checkDecimals(m.Price, m.Quantity); err != nil {
		return nil, err
	}
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen-2+decimalLen(m.Price)+decimalLen(m.Quantity))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	buf[2] = byte(m.OrderType)
	buf[3] = byte(m.Side)
	buf[4] = byte(m.TimeInForce)
	binary.BigEndian.PutUint32(buf[5:9], m.Owner)
	offset := 9
	offset += putDecimal(buf[offset:], m.Price)
	putDecimal(buf[offset:], m.Quantity)
	return buf, nil
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m.OrderType = common.OrderType(msg[0])
	m.Side = common.Side(msg[1])
	m.TimeInForce = common.TimeInForce(msg[2])
	m.Owner = binary.BigEndian.Uint32(msg[3:7])

	var err error
	var n int
	offset := 7
	if m.Price, n, err = readDecimal(msg[offset:]); err != nil {
		return NewOrderMessage{}, err
	}
	offset += n
	if m.Quantity, _, err = readDecimal(msg[offset:]); err != nil {
		return NewOrderMessage{}, err
	}
	return m, nil
}

type CancelOrderMessage struct {
	BaseMessage
	Owner   uint32 // 4 bytes
	OrderID uint64 // 8 bytes
}

func (m CancelOrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint32(buf[2:6], m.Owner)
	binary.BigEndian.PutUint64(buf[6:14], m.OrderID)
	return buf
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}

	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Owner = binary.BigEndian.Uint32(msg[0:4])
	m.OrderID = binary.BigEndian.Uint64(msg[4:12])

	return m, nil
}

// --- Reports ----------------------------------------------------------------

// Report is the single server to client message shape. Fields a report type
// has no use for are left zero.
type Report struct {
	MessageType  ReportMessageType // 1 byte
	Side         common.Side       // 1 byte
	OrderID      uint64            // 8 bytes
	Timestamp    uint64            // 8 bytes
	TradeID      uuid.UUID         // 16 bytes
	Counterparty uint32            // 4 bytes
	Price        decimal.Decimal   // 1 byte length + n bytes
	Quantity     decimal.Decimal   // 1 byte length + n bytes
	Err          string            // 2 byte length + n bytes
}

const reportFixedHeaderLen = 1 + 1 + 8 + 8 + 16 + 4

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Err) > MaxFrameLen/2 {
		return nil, ErrMessageTooLong
	}
	if err := checkDecimals(r.Price, r.Quantity); err != nil {
		return nil, err
	}
	totalSize := reportFixedHeaderLen + decimalLen(r.Price) + decimalLen(r.Quantity) + 2 + len(r.Err)

	buf := make([]byte, totalSize)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.OrderID)
	binary.BigEndian.PutUint64(buf[10:18], r.Timestamp)
	copy(buf[18:34], r.TradeID[:])
	binary.BigEndian.PutUint32(buf[34:38], r.Counterparty)

	offset := reportFixedHeaderLen
	offset += putDecimal(buf[offset:], r.Price)
	offset += putDecimal(buf[offset:], r.Quantity)
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(r.Err)))
	copy(buf[offset+2:], r.Err)
	return buf, nil
}

func ParseReport(msg []byte) (Report, error) {
	if len(msg) < reportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}

	r := Report{
		MessageType:  ReportMessageType(msg[0]),
		Side:         common.Side(msg[1]),
		OrderID:      binary.BigEndian.Uint64(msg[2:10]),
		Timestamp:    binary.BigEndian.Uint64(msg[10:18]),
		Counterparty: binary.BigEndian.Uint32(msg[34:38]),
	}
	copy(r.TradeID[:], msg[18:34])

	var err error
	var n int
	offset := reportFixedHeaderLen
	if r.Price, n, err = readDecimal(msg[offset:]); err != nil {
		return Report{}, err
	}
	offset += n
	if r.Quantity, n, err = readDecimal(msg[offset:]); err != nil {
		return Report{}, err
	}
	offset += n

	if len(msg) < offset+2 {
		return Report{}, ErrMessageTooShort
	}
	errLen := int(binary.BigEndian.Uint16(msg[offset : offset+2]))
	offset += 2
	if len(msg) < offset+errLen {
		return Report{}, ErrMessageTooShort
	}
	r.Err = string(msg[offset : offset+errLen])
	return r, nil
}

// generateWireTradeReports generates both execution reports of a trade, the
// first addressed to the taker and the second to the maker.
func generateWireTradeReports(trade common.Trade) ([]byte, []byte, error) {
	createReport := func(party, counterParty common.Order) Report {
		return Report{
			MessageType:  ExecutionReport,
			Side:         party.Side,
			OrderID:      party.ID,
			Timestamp:    uint64(trade.Timestamp.UnixNano()),
			TradeID:      trade.ID,
			Counterparty: counterParty.Owner,
			Price:        trade.Price,
			Quantity:     trade.MatchQty,
		}
	}

	r1 := createReport(trade.Taker, trade.Maker)
	r2 := createReport(trade.Maker, trade.Taker)

	b1, err := r1.Serialize()
	if err != nil {
		return nil, nil, err
	}

	b2, err := r2.Serialize()
	if err != nil {
		return nil, nil, err
	}

	return b1, b2, nil
}

// generateWireAckReport acknowledges an admitted or cancelled order with its
// remaining balance.
func generateWireAckReport(order common.Order) ([]byte, error) {
	report := Report{
		MessageType: AckReport,
		Side:        order.Side,
		OrderID:     order.ID,
		Timestamp:   order.Timestamp,
		Price:       order.Price,
		Quantity:    order.Balance,
	}
	return report.Serialize()
}

// generateWireTopReport describes the best order on side. A nil order reports
// an empty side with OrderID 0.
func generateWireTopReport(side common.Side, order *common.Order) ([]byte, error) {
	report := Report{
		MessageType: TopReport,
		Side:        side,
		Timestamp:   uint64(time.Now().UnixNano()),
	}
	if order != nil {
		report.OrderID = order.ID
		report.Price = order.Price
		report.Quantity = order.Balance
	}
	return report.Serialize()
}

func generateWireErrorReport(orderID uint64, err error) ([]byte, error) {
	report := Report{
		MessageType: ErrorReport,
		OrderID:     orderID,
		Timestamp:   uint64(time.Now().UnixNano()),
		Err:         err.Error(),
	}
	return report.Serialize()
}
