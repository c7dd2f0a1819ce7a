package event

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendReceipt_Omits_Status_When_Unreached(t *testing.T) {
	req := require.New(t)
	saved := domain.NewID()

	data, err := json.Marshal(SendReceipt{ClientMessageID: "c-1", SavedMessageID: saved, ConversationID: "conv"})
	req.NoError(err)
	req.JSONEq(fmt.Sprintf(`{"clientMessageId":"c-1","savedMessageId":%q,"conversationId":"conv"}`, saved.Hex()), string(data))

	data, err = json.Marshal(SendReceipt{ClientMessageID: "c-1", SavedMessageID: saved, ConversationID: "conv",
		Status: domain.StatusDelivered})
	req.NoError(err)
	req.Contains(string(data), `"status":"delivered"`)
}

func TestDeliveryReceipt_Lists_Message_Ids(t *testing.T) {
	req := require.New(t)
	a, b := domain.NewID(), domain.NewID()

	data, err := json.Marshal(DeliveryReceipt{MessageIDs: []domain.ID{a, b}, Status: domain.StatusDelivered})

	req.NoError(err)
	req.JSONEq(fmt.Sprintf(`{"messageId":[%q,%q],"status":"delivered"}`, a.Hex(), b.Hex()), string(data))
}

func TestError_Is_A_Bare_String(t *testing.T) {
	req := require.New(t)

	data, err := json.Marshal(Error{Message: ErrorSendFailed})

	req.NoError(err)
	req.Equal(`"Failed to send message"`, string(data))
}

func TestEventNames(t *testing.T) {
	req := require.New(t)
	req.Equal(NameMessageReceipt, SendReceipt{}.EventName())
	req.Equal(NameMessageReceipt, DeliveryReceipt{}.EventName())
	req.Equal(NameMessageReceipt, ReadReceipt{}.EventName())
	req.Equal(NamePrivateMessage, PrivateMessage{}.EventName())
	req.Equal(NameUserStatus, UserStatus{}.EventName())
	req.Equal(NameError, Error{}.EventName())
}
