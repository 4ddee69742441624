package shadow

// Topics are the MQTT topics of a device shadow
type Topics struct {
	prefix string
}

// ClassicTopics returns the topics of the unnamed shadow of thing
func ClassicTopics(thing string) Topics {
	return Topics{prefix: "$aws/things/" + thing + "/shadow"}
}

// NamedTopics returns the topics of the named shadow of thing
func NamedTopics(thing, name string) Topics {
	return Topics{prefix: "$aws/things/" + thing + "/shadow/name/" + name}
}

// Update is the topic to update the shadow document
func (t Topics) Update() string { return t.prefix + "/update" }

// UpdateAccepted receives the accepted updates
func (t Topics) UpdateAccepted() string { return t.Update() + "/accepted" }

// UpdateRejected receives the errors of rejected updates
func (t Topics) UpdateRejected() string { return t.Update() + "/rejected" }

// UpdateDelta receives the difference between desired and reported state
func (t Topics) UpdateDelta() string { return t.Update() + "/delta" }

// UpdateDocuments receives the previous and the current document after every update
func (t Topics) UpdateDocuments() string { return t.Update() + "/documents" }

// Get is the topic to request the shadow document
func (t Topics) Get() string { return t.prefix + "/get" }

// GetAccepted receives the requested document
func (t Topics) GetAccepted() string { return t.Get() + "/accepted" }

// GetRejected receives the errors of get requests
func (t Topics) GetRejected() string { return t.Get() + "/rejected" }

// Delete is the topic to delete the shadow
func (t Topics) Delete() string { return t.prefix + "/delete" }

// DeleteAccepted receives the confirmation of a delete
func (t Topics) DeleteAccepted() string { return t.Delete() + "/accepted" }

// DeleteRejected receives the errors of delete requests
func (t Topics) DeleteRejected() string { return t.Delete() + "/rejected" }
