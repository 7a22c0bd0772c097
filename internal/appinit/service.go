package appinit

import (
	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/common"
	"gitee.com/czyczk/pdproxy/internal/service"
	errors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewKMSService wires a KMS service from the server config. The returned function releases the key material store.
func NewKMSService(serverInfo *ServerInfo) (*service.KMSService, func(), error) {
	store, release, err := NewKeyMaterialStore(serverInfo.Database)
	if err != nil {
		return nil, nil, errors.Wrap(err, "无法创建密钥材料存储")
	}

	opts, err := serverInfo.KMS.CodecOptions()
	if err != nil {
		release()
		return nil, nil, err
	}

	codec, err := kms.NewCodec[common.ProxySession](store, opts...)
	if err != nil {
		release()
		return nil, nil, errors.Wrap(err, "无法创建 API 密钥编解码器")
	}

	log.WithFields(log.Fields{
		"driver":      serverInfo.Database.Driver,
		"cipher":      serverInfo.KMS.Cipher,
		"serializer":  serverInfo.KMS.Serializer,
		"splitLength": codec.SplitLength(),
		"singleUse":   serverInfo.KMS.SingleUse,
	}).Info("KMS 已就绪")

	return &service.KMSService{
		Codec:           codec,
		DefaultOwnerDID: serverInfo.OwnerDID,
		Timeout:         serverInfo.Database.Timeout(),
		SingleUse:       serverInfo.KMS.SingleUse,
	}, release, nil
}
