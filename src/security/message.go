// MIT License
//
// Copyright (c) 2024 sphinx-core
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// go/src/security/message.go
package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lyra-core/go/src/common"
)

// MessageType tags the payload carried by a Message.
type MessageType string

const (
	MsgHeartbeat         MessageType = "heartbeat"
	MsgNodeUp            MessageType = "node_up"
	MsgPrePrepare        MessageType = "preprepare"
	MsgPrepare           MessageType = "prepare"
	MsgCommit            MessageType = "commit"
	MsgViewChangeRequest MessageType = "viewchange_request"
	MsgViewChangeReply   MessageType = "viewchange_reply"
	MsgViewChangeCommit  MessageType = "viewchange_commit"
	MsgStatusInquiry     MessageType = "status_inquiry"
	MsgStatusReply       MessageType = "status_reply"
	MsgBlockQuery        MessageType = "block_query"
	MsgBlockBatch        MessageType = "block_batch"
)

var knownTypes = map[MessageType]struct{}{
	MsgHeartbeat: {}, MsgNodeUp: {}, MsgPrePrepare: {}, MsgPrepare: {}, MsgCommit: {},
	MsgViewChangeRequest: {}, MsgViewChangeReply: {}, MsgViewChangeCommit: {},
	MsgStatusInquiry: {}, MsgStatusReply: {}, MsgBlockQuery: {}, MsgBlockBatch: {},
}

// Message is the signed envelope gossiped between nodes.
// The signature covers every other field; relays forward it untouched.
type Message struct {
	Type      MessageType     `json:"type"`      // Payload kind
	From      string          `json:"from"`      // Account id of the signer
	Timestamp int64           `json:"timestamp"` // Unix milliseconds at signing time
	Version   int             `json:"version"`   // Protocol version of the sender
	Data      json.RawMessage `json:"data"`      // JSON payload
	Signature string          `json:"signature"` // base58 ed25519 signature
}

// NewMessage builds an unsigned message carrying payload.
func NewMessage(t MessageType, from string, version int, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return &Message{
		Type:      t,
		From:      from,
		Timestamp: time.Now().UnixMilli(),
		Version:   version,
		Data:      data,
	}, nil
}

func (m *Message) signingBytes() []byte {
	return []byte(string(m.Type) + "|" + m.From + "|" +
		strconv.FormatInt(m.Timestamp, 10) + "|" + strconv.Itoa(m.Version) + "|" +
		common.HashHex(m.Data))
}

// Sign signs the message with id and sets From.
func (m *Message) Sign(id *Identity) {
	m.From = id.AccountID()
	m.Signature = id.Sign(m.signingBytes())
}

// Verify checks the signature against the From account.
func (m *Message) Verify() error {
	if m.Signature == "" || !VerifyAccountSignature(m.signingBytes(), m.From, m.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Time returns the signing time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ValidateMessage checks the envelope shape, not the signature.
func (m *Message) ValidateMessage() error {
	if _, ok := knownTypes[m.Type]; !ok {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.From == "" {
		return errors.New("message without sender")
	}
	if m.Signature == "" {
		return errors.New("unsigned message")
	}
	return nil
}

// Encode serializes the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message from JSON.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.ValidateMessage(); err != nil {
		return nil, err
	}
	return &msg, nil
}
