//go:build tinygo && (rp2040 || rp2350)

package hal

import (
	"machine"
)

// Pin assignment of the sensor board.
const (
	uartBaudRate = 9600
	sensorPin    = machine.GP15
	linkPin      = machine.GP14
	lightPinR    = machine.GP6
	lightPinG    = machine.GP7
	lightPinB    = machine.GP8
	ws2812Pin    = machine.GP16
)

// StatusLED selects the status light: "rgb" for a common-anode RGB LED on
// GP6..GP8, "ws2812" for an addressable LED on GP16. Set with
// -ldflags "-X github.com/Pjottos/gocycling-controller/hal.StatusLED=ws2812".
var StatusLED = "rgb"

type tinyGoHAL struct {
	logger *usbLogger
	fb     Framebuffer
	t      *tinyGoTime
	flash  Flash
	sensor *machinePin
	link   *machinePin
	serial *uartSerial
	rtc    *softRTC
	light  StatusLight
	reboot bool
}

// New returns an RP2040 HAL implementation.
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 9600 8N1, wired to the Bluetooth
// serial module. Log lines go to USB CDC.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: uartBaudRate,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	logger := &usbLogger{}
	var light StatusLight
	switch StatusLED {
	case "ws2812":
		light = newWS2812Light(ws2812Pin)
	default:
		var err error
		light, err = newPWMLight(lightPinR, lightPinG, lightPinB)
		if err != nil {
			logger.WriteLineString("hal: status light: " + err.Error())
		}
	}

	return &tinyGoHAL{
		logger: logger,
		fb:     noScreen{},
		t:      &tinyGoTime{},
		flash:  newStageFlash(),
		sensor: newMachinePin("SENSOR", sensorPin, machine.PinInputPullup),
		link:   newMachinePin("LINK", linkPin, machine.PinInputPulldown),
		serial: &uartSerial{uart: uart},
		rtc:    &softRTC{},
		light:  light,
	}
}

func (h *tinyGoHAL) Logger() Logger           { return h.logger }
func (h *tinyGoHAL) Display() Display         { return tinyGoDisplay{fb: h.fb} }
func (h *tinyGoHAL) Flash() Flash             { return h.flash }
func (h *tinyGoHAL) Time() Time               { return h.t }
func (h *tinyGoHAL) Sensor() InterruptPin     { return h.sensor }
func (h *tinyGoHAL) Link() InterruptPin       { return h.link }
func (h *tinyGoHAL) Serial() Serial           { return h.serial }
func (h *tinyGoHAL) RTC() RTC                 { return h.rtc }
func (h *tinyGoHAL) StatusLight() StatusLight { return h.light }
func (h *tinyGoHAL) Rebooted() bool           { return h.reboot }

func (h *tinyGoHAL) NewAlarm(fire func(gen uint32)) Alarm {
	return &timerAlarm{fire: fire}
}
