// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Op names for services, assets and the connection graph.
const (
	OpAdvertiseServices          = "advertiseServices"
	OpUnadvertiseServices        = "unadvertiseServices"
	OpServiceCallFailure         = "serviceCallFailure"
	OpFetchAsset                 = "fetchAsset"
	OpSubscribeConnectionGraph   = "subscribeConnectionGraph"
	OpUnsubscribeConnectionGraph = "unsubscribeConnectionGraph"
	OpConnectionGraphUpdate      = "connectionGraphUpdate"
)

// ServiceID identifies an advertised service. Ids start at 1 and are never
// reused.
type ServiceID uint32

// ServiceMessageSchema describes a service request or response payload.
type ServiceMessageSchema struct {
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding"`
	Schema         string `json:"schema"`
}

// Service is the advertised form of a server service.
type Service struct {
	ID       ServiceID             `json:"id"`
	Name     string                `json:"name"`
	Type     string                `json:"type"`
	Request  *ServiceMessageSchema `json:"request,omitempty"`
	Response *ServiceMessageSchema `json:"response,omitempty"`
}

// AdvertiseServices announces services.
type AdvertiseServices struct {
	Op       string    `json:"op"`
	Services []Service `json:"services"`
}

// UnadvertiseServices retracts services.
type UnadvertiseServices struct {
	Op         string      `json:"op"`
	ServiceIDs []ServiceID `json:"serviceIds"`
}

// ServiceCallFailure reports a failed call to the caller only.
type ServiceCallFailure struct {
	Op        string    `json:"op"`
	ServiceID ServiceID `json:"serviceId"`
	CallID    uint32    `json:"callId"`
	Message   string    `json:"message"`
}

// ServiceCallRequest is a client binary call. Payload aliases the frame.
type ServiceCallRequest struct {
	ServiceID ServiceID
	CallID    uint32
	Encoding  string
	Payload   []byte
}

// ServiceCallResponse is the server binary reply to a call.
type ServiceCallResponse struct {
	ServiceID ServiceID
	CallID    uint32
	Encoding  string
	Payload   []byte
}

// FetchAsset asks the server for the asset at URI.
type FetchAsset struct {
	URI       string `json:"uri"`
	RequestID uint32 `json:"requestId"`
}

// FetchAssetStatus is the outcome byte of a FetchAssetResponse.
type FetchAssetStatus uint8

const (
	FetchAssetSuccess FetchAssetStatus = 0
	FetchAssetError   FetchAssetStatus = 1
)

// FetchAssetResponse carries asset bytes or an error message.
type FetchAssetResponse struct {
	RequestID uint32
	Status    FetchAssetStatus
	Error     string
	Data      []byte
}

// SubscribeConnectionGraph starts connection graph updates.
type SubscribeConnectionGraph struct{}

// UnsubscribeConnectionGraph stops connection graph updates.
type UnsubscribeConnectionGraph struct{}

// PublishedTopic lists the publishers of a topic.
type PublishedTopic struct {
	Name         string   `json:"name"`
	PublisherIDs []string `json:"publisherIds"`
}

// SubscribedTopic lists the subscribers of a topic.
type SubscribedTopic struct {
	Name          string   `json:"name"`
	SubscriberIDs []string `json:"subscriberIds"`
}

// AdvertisedService lists the providers of a service.
type AdvertisedService struct {
	Name        string   `json:"name"`
	ProviderIDs []string `json:"providerIds"`
}

// ConnectionGraphUpdate carries the entries that changed since the last
// update. An entry replaces the previous id list for its name.
type ConnectionGraphUpdate struct {
	Op                 string              `json:"op"`
	PublishedTopics    []PublishedTopic    `json:"publishedTopics"`
	SubscribedTopics   []SubscribedTopic   `json:"subscribedTopics"`
	AdvertisedServices []AdvertisedService `json:"advertisedServices"`
	RemovedTopics      []string            `json:"removedTopics"`
	RemovedServices    []string            `json:"removedServices"`
}

// Empty reports whether the update carries no change.
func (u ConnectionGraphUpdate) Empty() bool {
	return len(u.PublishedTopics) == 0 && len(u.SubscribedTopics) == 0 &&
		len(u.AdvertisedServices) == 0 && len(u.RemovedTopics) == 0 && len(u.RemovedServices) == 0
}

// maxEncodingLen bounds encoding names carried in binary frames.
const maxEncodingLen = 256

// EncodeServiceCallRequest builds a client service call frame.
func EncodeServiceCallRequest(req ServiceCallRequest) []byte {
	return encodeServiceCall(ClientOpServiceCallRequest, req.ServiceID, req.CallID, req.Encoding, req.Payload)
}

// EncodeServiceCallResponse builds a server service response frame.
func EncodeServiceCallResponse(resp ServiceCallResponse) []byte {
	return encodeServiceCall(ServerOpServiceCallResponse, resp.ServiceID, resp.CallID, resp.Encoding, resp.Payload)
}

func encodeServiceCall(op byte, id ServiceID, callID uint32, encoding string, payload []byte) []byte {
	buf := make([]byte, 1+4+4+4+len(encoding)+len(payload))
	buf[0] = op
	binary.LittleEndian.PutUint32(buf[1:], uint32(id))
	binary.LittleEndian.PutUint32(buf[5:], callID)
	binary.LittleEndian.PutUint32(buf[9:], uint32(len(encoding)))
	n := copy(buf[13:], encoding)
	copy(buf[13+n:], payload)
	return buf
}

func decodeServiceCall(data []byte, what string) (id ServiceID, callID uint32, encoding string, payload []byte, err error) {
	const fixed = 1 + 4 + 4 + 4
	if len(data) < fixed {
		return 0, 0, "", nil, fmt.Errorf("%s: %w", what, ErrBufferTooShort)
	}
	n := binary.LittleEndian.Uint32(data[9:])
	if n > maxEncodingLen {
		return 0, 0, "", nil, fmt.Errorf("%w: %s encoding length %d", ErrMalformed, what, n)
	}
	if uint32(len(data)-fixed) < n {
		return 0, 0, "", nil, fmt.Errorf("%s encoding: %w", what, ErrBufferTooShort)
	}
	return ServiceID(binary.LittleEndian.Uint32(data[1:])),
		binary.LittleEndian.Uint32(data[5:]),
		string(data[fixed : fixed+int(n)]),
		data[fixed+int(n):],
		nil
}

// EncodeFetchAssetResponse builds a server asset response frame.
func EncodeFetchAssetResponse(resp FetchAssetResponse) []byte {
	buf := make([]byte, 1+4+1+4+len(resp.Error)+len(resp.Data))
	buf[0] = ServerOpFetchAssetResponse
	binary.LittleEndian.PutUint32(buf[1:], resp.RequestID)
	buf[5] = byte(resp.Status)
	binary.LittleEndian.PutUint32(buf[6:], uint32(len(resp.Error)))
	n := copy(buf[10:], resp.Error)
	copy(buf[10+n:], resp.Data)
	return buf
}

func decodeFetchAssetResponse(data []byte) (FetchAssetResponse, error) {
	const fixed = 1 + 4 + 1 + 4
	if len(data) < fixed {
		return FetchAssetResponse{}, fmt.Errorf("fetch asset response: %w", ErrBufferTooShort)
	}
	n := binary.LittleEndian.Uint32(data[6:])
	if uint32(len(data)-fixed) < n {
		return FetchAssetResponse{}, fmt.Errorf("fetch asset error message: %w", ErrBufferTooShort)
	}
	return FetchAssetResponse{
		RequestID: binary.LittleEndian.Uint32(data[1:]),
		Status:    FetchAssetStatus(data[5]),
		Error:     string(data[fixed : fixed+int(n)]),
		Data:      data[fixed+int(n):],
	}, nil
}
