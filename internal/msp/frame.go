package msp

import "encoding/binary"

// MSP V2 frame markers.
const (
	startByte = 0x24 // '$'
	identByte = 0x58 // 'X'

	// Direction bytes.
	dirRequest  = 0x3C // '<' to FC
	dirResponse = 0x3E // '>' from FC
	dirError    = 0x21 // '!' FC declined the request
)

// MSP function IDs used by the landing system.
const (
	FuncFCVariant uint16 = 2   // FC identifier (INAV, BTFL, ...)
	FuncFCVersion uint16 = 3   // FC version triple
	FuncStatus    uint16 = 101 // status flags (armed, mode)
	FuncRC        uint16 = 105 // current RC channel values
	FuncAltitude  uint16 = 109 // altitude in cm
	FuncSetRawRC  uint16 = 200 // RC channel override
)

// RC channel limits.
const (
	RCMin = 1000
	RCMax = 2000
	RCMid = 1500

	// NumChannels is the full channel vector INAV expects on MSP_SET_RAW_RC.
	NumChannels = 18
)

// headerLen is the fixed portion of a frame before the payload:
// start, ident, direction, flag, function (2), length (2).
const headerLen = 8

// Checksum computes the CRC-8/DVB-S2 checksum (polynomial 0xD5) over data.
// MSP V2 covers flag+function+length+payload, not the three marker bytes.
func Checksum(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0xD5
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// buildFrame assembles a request frame for the given function and payload.
func buildFrame(function uint16, payload []byte) []byte {
	frame := make([]byte, headerLen+len(payload)+1)
	frame[0] = startByte
	frame[1] = identByte
	frame[2] = dirRequest
	frame[3] = 0x00 // flag, always zero for normal messages
	binary.LittleEndian.PutUint16(frame[4:6], function)
	binary.LittleEndian.PutUint16(frame[6:8], uint16(len(payload)))
	copy(frame[headerLen:], payload)
	frame[len(frame)-1] = Checksum(frame[3 : len(frame)-1])
	return frame
}

// clampRC bounds a channel value to the valid RC range.
func clampRC(v int) uint16 {
	if v < RCMin {
		return RCMin
	}
	if v > RCMax {
		return RCMax
	}
	return uint16(v)
}

// encodeChannels serializes up to NumChannels values as little-endian u16,
// clamping each and padding the remainder with the neutral value.
func encodeChannels(channels []uint16) []byte {
	payload := make([]byte, NumChannels*2)
	for i := 0; i < NumChannels; i++ {
		v := uint16(RCMid)
		if i < len(channels) {
			v = clampRC(int(channels[i]))
		}
		binary.LittleEndian.PutUint16(payload[i*2:], v)
	}
	return payload
}

// DecodeChannels parses a channel payload of little-endian u16 values.
func DecodeChannels(payload []byte) []uint16 {
	n := len(payload) / 2
	channels := make([]uint16, n)
	for i := 0; i < n; i++ {
		channels[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}
	return channels
}
