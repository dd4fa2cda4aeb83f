// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package websocket

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/chronoscope/internal/logging"
	"github.com/tomtom215/chronoscope/internal/metrics"
	"github.com/tomtom215/chronoscope/internal/protocol"
)

// AssetFetcher resolves fetchAsset URIs.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, uri string) ([]byte, error)
}

var errNoAssets = errors.New("asset fetching is not configured")

// handleFetchAsset resolves the asset off the read pump and answers the
// caller only. Failures are reported in the response, never as a status.
func (h *Hub) handleFetchAsset(c *Client, m protocol.FetchAsset) {
	ctx := logging.ContextWithNewCorrelationID(c.ctx)
	go func() {
		var (
			data []byte
			err  = errNoAssets
		)
		if h.opts.Assets != nil {
			data, err = h.opts.Assets.FetchAsset(ctx, m.URI)
		}

		resp := protocol.FetchAssetResponse{RequestID: m.RequestID, Status: protocol.FetchAssetSuccess, Data: data}
		if err != nil {
			metrics.RecordAssetFetch("error")
			logging.Ctx(ctx).Debug().Err(err).Str("uri", m.URI).Msg("asset fetch failed")
			resp = protocol.FetchAssetResponse{RequestID: m.RequestID, Status: protocol.FetchAssetError, Error: err.Error()}
		} else {
			metrics.RecordAssetFetch("ok")
		}
		h.sendTo(c, outbound{
			messageType: websocket.BinaryMessage,
			data:        protocol.EncodeFetchAssetResponse(resp),
			kind:        "fetch_asset_response",
		})
	}()
}
