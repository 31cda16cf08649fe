package service

import (
	"context"

	"github.com/swapsuite/swap-dealer-server/constdef"
	"github.com/swapsuite/swap-dealer-server/dal/dao"
	"github.com/swapsuite/swap-dealer-server/dal/do"

	"gorm.io/gorm"
)

// TradeService records the lifecycle of matched quotes. Records are
// write-mostly operator history; the dealer never reads them back to make
// trading decisions.
type TradeService interface {
	RecordQuote(ctx context.Context, tx *gorm.DB, info *do.TradeInfo) error
	MarkDone(ctx context.Context, tx *gorm.DB, orderID string, txid string) error
	MarkFailed(ctx context.Context, tx *gorm.DB, orderID string, reason string) error
	MarkWithdrawn(ctx context.Context, tx *gorm.DB, orderID string, reason string) error
}

type TradeServiceImpl struct {
	tradeInfoDao dao.TradeInfoDAO
}

var tradeService TradeService = &TradeServiceImpl{
	tradeInfoDao: dao.GetTradeInfoDAOImpl(),
}

func GetTradeService() TradeService {
	return tradeService
}

func (s *TradeServiceImpl) RecordQuote(ctx context.Context, tx *gorm.DB, info *do.TradeInfo) error {
	info.Status = constdef.TradeStatusQuoted
	_, err := s.tradeInfoDao.Create(ctx, tx, info)
	return err
}

func (s *TradeServiceImpl) MarkDone(ctx context.Context, tx *gorm.DB, orderID string, txid string) error {
	err := s.tradeInfoDao.UpdateTxIDByOrderID(ctx, tx, orderID, txid)
	if err != nil {
		return err
	}
	return s.tradeInfoDao.UpdateStatusByOrderID(ctx, tx, orderID, constdef.TradeStatusDone)
}

func (s *TradeServiceImpl) MarkFailed(ctx context.Context, tx *gorm.DB, orderID string, reason string) error {
	err := s.tradeInfoDao.UpdateReasonByOrderID(ctx, tx, orderID, reason)
	if err != nil {
		return err
	}
	return s.tradeInfoDao.UpdateStatusByOrderID(ctx, tx, orderID, constdef.TradeStatusFailed)
}

func (s *TradeServiceImpl) MarkWithdrawn(ctx context.Context, tx *gorm.DB, orderID string, reason string) error {
	err := s.tradeInfoDao.UpdateReasonByOrderID(ctx, tx, orderID, reason)
	if err != nil {
		return err
	}
	return s.tradeInfoDao.UpdateStatusByOrderID(ctx, tx, orderID, constdef.TradeStatusWithdrawn)
}
