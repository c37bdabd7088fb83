package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/anicoll/mijia-clock/internal/pkg/model"
)

var (
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// FrameType is the first byte of the sensor service data.
type FrameType byte

const (
	FrameTemperature         FrameType = 0x04
	FrameHumidity            FrameType = 0x06
	FrameBattery             FrameType = 0x0A
	FrameTemperatureHumidity FrameType = 0x0D
)

func (f FrameType) String() string {
	switch f {
	case FrameTemperature:
		return "temperature"
	case FrameHumidity:
		return "humidity"
	case FrameBattery:
		return "battery"
	case FrameTemperatureHumidity:
		return "temperature_humidity"
	default:
		return fmt.Sprintf("0x%02x", byte(f))
	}
}

// frameSize is the full frame length including the type byte.
var frameSize = map[FrameType]int{
	FrameTemperature:         3,
	FrameHumidity:            2,
	FrameBattery:             2,
	FrameTemperatureHumidity: 4,
}

// Decode maps one advertisement to a reading. Advertisements for any other
// service return (nil, nil). Errors wrap ErrUnknownFrame or ErrMalformedFrame
// and are meant to be logged and dropped.
func Decode(adv model.Advertisement) (*model.Reading, error) {
	if adv.ServiceUUID != model.SensorServiceUUID {
		return nil, nil
	}
	data := adv.Data
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty service data", ErrMalformedFrame)
	}

	frame := FrameType(data[0])
	size, known := frameSize[frame]
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, frame)
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s frame is %d bytes, want %d", ErrMalformedFrame, frame, len(data), size)
	}

	reading := &model.Reading{
		Address:    adv.Address,
		ObservedAt: adv.ObservedAt,
	}
	body := data[1:]

	switch frame {
	case FrameTemperatureHumidity:
		temp := model.Temperature(int16(binary.LittleEndian.Uint16(body[0:2])))
		humidity, err := percent(frame, body[2])
		if err != nil {
			return nil, err
		}
		reading.Temperature = &temp
		reading.Humidity = &humidity
	case FrameTemperature:
		temp := model.Temperature(int16(binary.LittleEndian.Uint16(body[0:2])))
		reading.Temperature = &temp
	case FrameHumidity:
		humidity, err := percent(frame, body[0])
		if err != nil {
			return nil, err
		}
		reading.Humidity = &humidity
	case FrameBattery:
		battery, err := percent(frame, body[0])
		if err != nil {
			return nil, err
		}
		reading.Battery = &battery
	}
	return reading, nil
}

func percent(frame FrameType, v byte) (uint8, error) {
	if v > 100 {
		return 0, fmt.Errorf("%w: %s value %d exceeds 100%%", ErrMalformedFrame, frame, v)
	}
	return v, nil
}

// Encode builds the service data for a reading. It is the inverse of Decode;
// the scripted transport in bletest advertises with it.
func Encode(frame FrameType, r model.Reading) ([]byte, error) {
	switch frame {
	case FrameTemperatureHumidity:
		if r.Temperature == nil || r.Humidity == nil {
			return nil, fmt.Errorf("%w: %s needs temperature and humidity", ErrMalformedFrame, frame)
		}
		buf := []byte{byte(frame), 0, 0, *r.Humidity}
		binary.LittleEndian.PutUint16(buf[1:3], uint16(*r.Temperature))
		return buf, nil
	case FrameTemperature:
		if r.Temperature == nil {
			return nil, fmt.Errorf("%w: %s needs temperature", ErrMalformedFrame, frame)
		}
		buf := []byte{byte(frame), 0, 0}
		binary.LittleEndian.PutUint16(buf[1:3], uint16(*r.Temperature))
		return buf, nil
	case FrameHumidity:
		if r.Humidity == nil {
			return nil, fmt.Errorf("%w: %s needs humidity", ErrMalformedFrame, frame)
		}
		return []byte{byte(frame), *r.Humidity}, nil
	case FrameBattery:
		if r.Battery == nil {
			return nil, fmt.Errorf("%w: %s needs battery", ErrMalformedFrame, frame)
		}
		return []byte{byte(frame), *r.Battery}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFrame, frame)
}
