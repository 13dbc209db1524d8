package message

// Static is a Delivery built from plain values.
type Static struct {
	TopicName string
	Body      []byte
	QoSLevel  byte
	Retain    bool
}

func (s Static) Topic() string   { return s.TopicName }
func (s Static) Payload() []byte { return s.Body }
func (s Static) Qos() byte       { return s.QoSLevel }
func (s Static) Retained() bool  { return s.Retain }
