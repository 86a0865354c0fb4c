// Package micros implements a driver for the byte-oriented RS232 protocol of
// the TELETASK MICROS building-automation controller.
//
// # Protocol Overview
//
// Every message is a frame:
//
//	[0x02][LEN][CMD][payload...][CHK]
//
// LEN counts the bytes from itself through CHK, and CHK is the sum of all
// preceding bytes modulo 256. The host sends SET (0x01), GET (0x02) and LOG
// (0x03) frames. The controller answers with acknowledgements (0x00 or 0x01),
// GET replies (0x02) and unsolicited state events (0x08). SET, GET reply and
// EVENT payloads carry [function, number, state]; OFF is 0 and ON is 255,
// dimmers use the full range.
//
// # Architecture
//
// A dedicated reader goroutine resynchronizes on the start byte, validates
// each frame and routes it to one of three bounded queues (ack, event, GET
// reply). It never blocks: a full queue evicts stale frames or drops the new
// one. Event frames are also fanned out to subscribers on a separate notifier
// goroutine.
//
// Device calls run on the caller's goroutine. A confirmed SET sends the frame,
// waits briefly for an optional ack, then waits for an event reporting the new
// state and falls back to a GET when no event arrives. Unconfirmed attempts are
// retried with linear backoff:
//
//	delay = retryDelay + retryStep*(attempt-1)
//
// Moods are triggers and succeed once the frame is sent.
//
// # Usage
//
//	cfg, err := micros.NewConfig("/dev/ttyUSB0",
//	    micros.WithRetries(3),
//	    micros.WithConfirmTimeout(800*time.Millisecond),
//	)
//	if err != nil {
//	    return err
//	}
//
//	drv, err := micros.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer drv.Close()
//
//	unsubscribe := drv.Subscribe(func(c micros.StateChange) {
//	    fmt.Println(c.Address, c.State)
//	})
//	defer unsubscribe()
//
//	if err := drv.SetRelay(12, micros.CommandOn); errors.Is(err, micros.ErrNotConfirmed) {
//	    // the controller never reported relay 12 as ON
//	}
//
// A port name of the form "tcp://host:port" connects to a serial-over-IP
// bridge instead of a local serial device.
package micros
