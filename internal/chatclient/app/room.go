package app

import (
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/pkg/protocol"
)

// roomMembership tracks whether this client is in the chat room. joinRoom and
// leaveRoom strictly alternate: join only from not joined, leave only from
// joined.
type roomMembership struct {
	joined bool
	userID string
}

// join emits joinRoom for identity. The caller must have just observed the
// instance open. Returns false when already joined.
func (r *roomMembership) join(conn Conn, identity domain.Identity) (bool, error) {
	if r.joined {
		return false, nil
	}
	r.joined = true
	r.userID = identity.ID
	return true, conn.Emit(protocol.EventJoinRoom, protocol.RoomRequest{UserID: identity.ID})
}

// leave emits leaveRoom once for the current join. Delivery is best-effort;
// the membership is retired even if the emit fails or conn is nil.
func (r *roomMembership) leave(conn Conn) (bool, error) {
	if !r.joined {
		return false, nil
	}
	userID := r.userID
	r.joined = false
	r.userID = ""
	if conn == nil {
		return true, nil
	}
	return true, conn.Emit(protocol.EventLeaveRoom, protocol.RoomRequest{UserID: userID})
}
