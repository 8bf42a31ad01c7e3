package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"kestrel/internal/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_NewOrder(t *testing.T) {
	sent := NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		OrderType:   common.LimitOrder,
		Side:        common.Ask,
		TimeInForce: common.IOC,
		Owner:       77,
		Price:       decimal.RequireFromString("101.25"),
		Quantity:    decimal.RequireFromString("0.003"),
	}

	payload, err := sent.Serialize()
	require.NoError(t, err)
	parsed, err := parseMessage(payload)
	require.NoError(t, err)
	m, ok := parsed.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, NewOrder, m.GetType())
	assert.Equal(t, common.LimitOrder, m.OrderType)
	assert.Equal(t, common.Ask, m.Side)
	assert.Equal(t, common.IOC, m.TimeInForce)
	assert.Equal(t, uint32(77), m.Owner)
	assert.True(t, m.Price.Equal(sent.Price))
	assert.True(t, m.Quantity.Equal(sent.Quantity))

	order := m.Order()
	assert.True(t, order.Balance.Equal(order.Quantity))
	assert.Zero(t, order.ID)
}

func TestParseMessage_CancelAndQuery(t *testing.T) {
	parsed, err := parseMessage(CancelOrderMessage{Owner: 3, OrderID: 1 << 40}.Serialize())
	require.NoError(t, err)
	cancel, ok := parsed.(CancelOrderMessage)
	require.True(t, ok)
	assert.Equal(t, uint32(3), cancel.Owner)
	assert.Equal(t, uint64(1<<40), cancel.OrderID)

	parsed, err = parseMessage(BaseMessage{TypeOf: QueryTop}.Serialize())
	require.NoError(t, err)
	assert.Equal(t, QueryTop, parsed.GetType())
}

func TestParseMessage_Errors(t *testing.T) {
	_, err := parseMessage([]byte{0})
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage([]byte{0, 99})
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	full, err := NewOrderMessage{Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1)}.Serialize()
	require.NoError(t, err)
	_, err = parseMessage(full[:len(full)-1])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage(full[:5])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage(CancelOrderMessage{}.Serialize()[:10])
	assert.ErrorIs(t, err, ErrMessageTooShort)

	bad := append([]byte(nil), full...)
	bad[10] = 'x' // first byte of the price text
	_, err = parseMessage(bad)
	assert.ErrorIs(t, err, ErrInvalidDecimal)
}

func TestSerialize_DecimalTooLong(t *testing.T) {
	long := decimal.RequireFromString("1." + strings.Repeat("1", 300))

	_, err := NewOrderMessage{Price: decimal.NewFromInt(1), Quantity: long}.Serialize()
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = NewOrderMessage{Price: long, Quantity: decimal.NewFromInt(1)}.Serialize()
	assert.ErrorIs(t, err, ErrMessageTooLong)

	order := common.NewOrder(1, decimal.NewFromInt(1), long)
	_, err = generateWireAckReport(order)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	// The longest decimal that fits still round trips exactly.
	edge := decimal.RequireFromString("1." + strings.Repeat("7", common.MaxDecimalLen-2))
	require.Len(t, edge.String(), common.MaxDecimalLen)
	payload, err := NewOrderMessage{Price: decimal.NewFromInt(1), Quantity: edge}.Serialize()
	require.NoError(t, err)
	parsed, err := parseMessage(payload)
	require.NoError(t, err)
	assert.True(t, parsed.(NewOrderMessage).Quantity.Equal(edge))

	ack, err := generateWireAckReport(common.NewOrder(1, decimal.NewFromInt(1), edge))
	require.NoError(t, err)
	report, err := ParseReport(ack)
	require.NoError(t, err)
	assert.True(t, report.Quantity.Equal(edge))
}

func TestReport_SerializeParse(t *testing.T) {
	sent := Report{
		MessageType:  ExecutionReport,
		Side:         common.Bid,
		OrderID:      12,
		Timestamp:    34,
		TradeID:      uuid.New(),
		Counterparty: 56,
		Price:        decimal.RequireFromString("9.5"),
		Quantity:     decimal.RequireFromString("2"),
		Err:          "none",
	}
	buf, err := sent.Serialize()
	require.NoError(t, err)

	got, err := ParseReport(buf)
	require.NoError(t, err)
	assert.Equal(t, sent.MessageType, got.MessageType)
	assert.Equal(t, sent.Side, got.Side)
	assert.Equal(t, sent.OrderID, got.OrderID)
	assert.Equal(t, sent.Timestamp, got.Timestamp)
	assert.Equal(t, sent.TradeID, got.TradeID)
	assert.Equal(t, sent.Counterparty, got.Counterparty)
	assert.True(t, sent.Price.Equal(got.Price))
	assert.True(t, sent.Quantity.Equal(got.Quantity))
	assert.Equal(t, sent.Err, got.Err)

	_, err = ParseReport(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrMessageTooShort)
}

func TestGenerateWireTradeReports(t *testing.T) {
	taker := common.NewOrder(2, decimal.NewFromInt(11), decimal.NewFromInt(3))
	taker.Owner = 20
	maker := common.NewOrder(1, decimal.NewFromInt(10), decimal.NewFromInt(5))
	maker.Side = common.Ask
	maker.Owner = 10
	trade := common.NewTrade(taker, maker, decimal.NewFromInt(3))

	b1, b2, err := generateWireTradeReports(trade)
	require.NoError(t, err)

	r1, err := ParseReport(b1)
	require.NoError(t, err)
	assert.Equal(t, ExecutionReport, r1.MessageType)
	assert.Equal(t, uint64(2), r1.OrderID)
	assert.Equal(t, uint32(10), r1.Counterparty)
	assert.Equal(t, common.Bid, r1.Side)
	assert.True(t, r1.Price.Equal(decimal.NewFromInt(10)), "trade at maker price")

	r2, err := ParseReport(b2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r2.OrderID)
	assert.Equal(t, uint32(20), r2.Counterparty)
	assert.Equal(t, common.Ask, r2.Side)
	assert.Equal(t, r1.TradeID, r2.TradeID)
}

func TestGenerateWireTopReport_EmptySide(t *testing.T) {
	buf, err := generateWireTopReport(common.Ask, nil)
	require.NoError(t, err)
	report, err := ParseReport(buf)
	require.NoError(t, err)
	assert.Equal(t, TopReport, report.MessageType)
	assert.Equal(t, common.Ask, report.Side)
	assert.Zero(t, report.OrderID)
	assert.True(t, report.Quantity.IsZero())
	assert.NotZero(t, report.Timestamp)
	assert.LessOrEqual(t, report.Timestamp, uint64(time.Now().UnixNano()))
}

func TestGenerateWireErrorReport(t *testing.T) {
	buf, err := generateWireErrorReport(9, errors.New("order not found"))
	require.NoError(t, err)
	report, err := ParseReport(buf)
	require.NoError(t, err)
	assert.Equal(t, ErrorReport, report.MessageType)
	assert.Equal(t, uint64(9), report.OrderID)
	assert.Equal(t, "order not found", report.Err)
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))
	require.NoError(t, WriteFrame(&buf, nil))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(buf.Bytes()[0:2]))

	payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)

	payload, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, payload)

	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameLen+1)), ErrMessageTooLong)
}
