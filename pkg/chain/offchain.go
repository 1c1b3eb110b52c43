package chain

import (
	"encoding/json"

	"github.com/arcledger/arcledger/pkg/blobstore"
	"github.com/arcledger/arcledger/pkg/ledgererr"
)

func decodeOffChainRef(raw []byte) (*blobstore.Ref, error) {
	if len(raw) == 0 {
		return nil, ledgererr.New(ledgererr.InvalidInput, "block has no off-chain reference")
	}
	var ref blobstore.Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, ledgererr.Wrap(ledgererr.InvalidInput, "decode off-chain reference", err)
	}
	return &ref, nil
}
