package postgres

import (
	"encoding/json"

	"github.com/sleepymole/vjudge-dispatcher/store"
)

func encodeProblemRefs(refs []store.ContestProblemRef) ([]byte, error) {
	if refs == nil {
		refs = []store.ContestProblemRef{}
	}
	return json.Marshal(refs)
}

func decodeProblemRefs(data []byte) ([]store.ContestProblemRef, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var refs []store.ContestProblemRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}
