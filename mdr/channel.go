package mdr

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// channel is the acknowledgement layer between the codec and the session.
// It attaches sequence numbers to outbound data frames, answers inbound data
// frames with the complementary ACK, and adopts the sequence number echoed
// in inbound ACKs.
//
// The sequence number is not incremented locally on send. Captured traffic
// shows the device establishing the next number through its ACK, and the
// channel follows that scheme instead of an increment-on-send convention.
type channel struct {
	w   io.Writer
	seq byte
}

func (c *channel) reset(w io.Writer) {
	c.w = w
	c.seq = 0
}

// writeData frames the payload as a DataMdr frame with the current sequence
// number and writes it to the transport.
func (c *channel) writeData(payload []byte) error {
	frame := Pack(DataTypeDataMdr, c.seq, payload)
	log.Debugf("TX [seq=%d] % x", c.seq, payload)
	_, err := c.w.Write(frame)
	return err
}

// handleFrame performs ACK bookkeeping for one inbound frame and reports
// whether the frame should be handed to higher layers. ACK frames carry no
// payload and are consumed here.
func (c *channel) handleFrame(msg *Message) bool {
	if msg.DataType.IsAck() {
		log.Debugf("RX ack seq=%d", msg.Seq)
		c.seq = msg.Seq
		return false
	}

	ack := complementSeq(msg.Seq)
	if _, err := c.w.Write(BuildAck(ack)); err != nil {
		log.Warnf("failed to ack frame seq=%d: %v", msg.Seq, err)
	}
	return true
}

// complementSeq flips an alternating 0/1 sequence number. Out-of-range
// values reset to 0.
func complementSeq(seq byte) byte {
	if seq <= 1 {
		return 1 - seq
	}
	return 0
}
