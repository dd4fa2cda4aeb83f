// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

/*
Package protocol defines the messages exchanged between the server and its
clients over a websocket connection.

Text frames carry JSON objects discriminated by an "op" field. Binary frames
start with a one-byte opcode followed by little-endian fields.

Server to client (text):

	serverInfo       name, capabilities, supportedEncodings, metadata, sessionId,
	                 dataStartTime/dataEndTime when rangedPlayback is advertised
	status           level (0 info, 1 warning, 2 error), message, optional id
	advertise        channels
	unadvertise      channelIds
	parameterValues  parameters, optional id

Client to server (text):

	subscribe, unsubscribe                 channelIds
	advertise                              client channels (clientPublish)
	unadvertise                            channelIds (clientPublish)
	getParameters, setParameters           (parameters)
	subscribeParameterUpdates,
	unsubscribeParameterUpdates            parameterNames (parametersSubscribe)

Server to client (binary):

	0x01 MessageData     u32 channel id, u64 log time, payload
	0x02 Time            u64 log time
	0x05 PlaybackState   u8 status, u64 current time, f32 speed, u8 did seek,
	                     u32 request id length, request id

Client to server (binary):

	0x01 MessageData              u32 client channel id, payload
	0x03 PlaybackControlRequest   u8 command, f32 speed, u8 had seek, u64 seek time,
	                              u32 request id length, request id

All times are nanoseconds.
*/
package protocol
